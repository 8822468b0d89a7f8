// cmd/fabricctl is the CLI client, built with Cobra.
//
// Usage:
//
//	fabricctl submit regresion_lineal '{"X": [[1],[2],[3]], "y": [2,4,6]}'  --node http://localhost:8100
//	fabricctl run regresion_lineal '{"X": [[1],[2]], "y": [1,2]}'           --node http://localhost:8100
//	fabricctl estado                                                        --node http://localhost:8100
//	fabricctl kv                                                            --node http://localhost:8100
//	fabricctl metrics                                                       --node http://localhost:8100
//	fabricctl ping nodo2                                                    --node http://localhost:8100
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"compute-fabric/internal/client"
	"compute-fabric/internal/task"
)

var (
	nodeAddr string
	timeout  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "fabricctl",
		Short: "CLI client for the compute fabric",
	}

	root.PersistentFlags().StringVarP(&nodeAddr, "node", "n",
		"http://localhost:8100", "Fabric node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second,
		"HTTP request timeout")

	root.AddCommand(submitCmd(), runCmd(), estadoCmd(), kvCmd(), metricsCmd(), pingCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseTask builds a Task from a type and a JSON payload argument.
func parseTask(taskType, payloadJSON string) (task.Task, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return task.Task{}, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return task.Task{ID: uuid.NewString(), Type: taskType, Payload: payload}, nil
}

// ─── submit ───────────────────────────────────────────────────────────────────

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <type> <payload-json>",
		Short: "Enqueue a task on the shared task list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTask(args[0], args[1])
			if err != nil {
				return err
			}
			c := client.New(nodeAddr, timeout)
			resp, err := c.SubmitTask(context.Background(), t)
			if err != nil {
				return err
			}
			fmt.Printf("task %s enqueued (version %d)\n", t.ID, resp.Version)
			return nil
		},
	}
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <type> <payload-json>",
		Short: "Execute a task through the fabric and print the outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTask(args[0], args[1])
			if err != nil {
				return err
			}
			c := client.New(nodeAddr, timeout)
			resp, err := c.ExecuteTask(context.Background(), t)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── estado ───────────────────────────────────────────────────────────────────

func estadoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estado",
		Short: "Show the node's identity and load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			resp, err := c.NodeEstado(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── kv ───────────────────────────────────────────────────────────────────────

func kvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kv",
		Short: "Dump the node's replicated KV snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			resp, err := c.KVState(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── metrics ──────────────────────────────────────────────────────────────────

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Scrape the node's metrics export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			text, err := c.Metrics(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

// ─── ping ─────────────────────────────────────────────────────────────────────

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <node-name>",
		Short: "Send a ping message through the node's message edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(nodeAddr, timeout)
			m := task.Message{
				ID:          uuid.NewString(),
				Type:        "ping",
				Source:      "fabricctl",
				Destination: args[0],
				Payload:     map[string]any{},
				TS:          float64(time.Now().UnixNano()) / 1e9,
			}
			resp, err := c.SendMessage(context.Background(), m)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
