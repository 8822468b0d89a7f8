package task

import "fmt"

// LinearRegression is the built-in "regresion_lineal" workload:
// ordinary least squares via the normal equations.
//
// Payload:
//
//	X      — matrix of feature rows
//	y      — target vector, one entry per row of X
//	X_test — optional rows to predict (default: the first two rows of X)
//
// Result:
//
//	coeficientes  — fitted weights, intercept first
//	predicciones  — predictions for X_test
func LinearRegression(payload map[string]any) (map[string]any, error) {
	x, err := toMatrix(payload["X"])
	if err != nil {
		return nil, fmt.Errorf("X: %w", err)
	}
	y, err := toVector(payload["y"])
	if err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("X has %d rows, y has %d entries", len(x), len(y))
	}

	var xTest [][]float64
	if raw, ok := payload["X_test"]; ok {
		xTest, err = toMatrix(raw)
		if err != nil {
			return nil, fmt.Errorf("X_test: %w", err)
		}
	} else {
		n := min(2, len(x))
		xTest = x[:n]
	}

	w, err := fitOLS(x, y)
	if err != nil {
		return nil, err
	}

	preds := make([]float64, len(xTest))
	for i, row := range xTest {
		if len(row) != len(w)-1 {
			return nil, fmt.Errorf("X_test row %d has %d features, model has %d", i, len(row), len(w)-1)
		}
		p := w[0]
		for j, v := range row {
			p += w[j+1] * v
		}
		preds[i] = p
	}

	return map[string]any{
		"coeficientes": w,
		"predicciones": preds,
	}, nil
}

// fitOLS solves (Xb^T Xb) w = Xb^T y, where Xb is x with a leading
// intercept column of ones. Gaussian elimination with partial pivoting
// is plenty for the small systems tasks carry.
func fitOLS(x [][]float64, y []float64) ([]float64, error) {
	rows := len(x)
	features := len(x[0])
	for i, row := range x {
		if len(row) != features {
			return nil, fmt.Errorf("X row %d has %d features, expected %d", i, len(row), features)
		}
	}
	dim := features + 1

	// Build the normal-equation system a·w = b directly: a = Xb^T Xb,
	// b = Xb^T y, with Xb[i] = [1, x[i]...].
	a := make([][]float64, dim)
	for i := range a {
		a[i] = make([]float64, dim)
	}
	b := make([]float64, dim)

	xb := func(r, c int) float64 {
		if c == 0 {
			return 1
		}
		return x[r][c-1]
	}
	for r := 0; r < rows; r++ {
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				a[i][j] += xb(r, i) * xb(r, j)
			}
			b[i] += xb(r, i) * y[r]
		}
	}

	return solve(a, b)
}

// solve performs in-place Gaussian elimination with partial pivoting.
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if abs(a[r][col]) > abs(a[pivot][col]) {
				pivot = r
			}
		}
		if abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system: features are collinear")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	w := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < n; j++ {
			sum -= a[i][j] * w[j]
		}
		w[i] = sum / a[i][i]
	}
	return w, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ─── Payload coercion ─────────────────────────────────────────────────────────

// toVector accepts []float64 or the []any a JSON decode produces.
func toVector(v any) ([]float64, error) {
	switch vv := v.(type) {
	case []float64:
		return vv, nil
	case []any:
		out := make([]float64, len(vv))
		for i, el := range vv {
			f, ok := toFloat(el)
			if !ok {
				return nil, fmt.Errorf("entry %d is not numeric", i)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a numeric array")
	}
}

// toMatrix accepts [][]float64 or nested []any rows.
func toMatrix(v any) ([][]float64, error) {
	switch vv := v.(type) {
	case [][]float64:
		return vv, nil
	case []any:
		out := make([][]float64, len(vv))
		for i, row := range vv {
			r, err := toVector(row)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a matrix")
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
