package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"taskrunner/config"
	"taskrunner/internal/delivery/http"
	"taskrunner/internal/dto"
	"taskrunner/pkg/httpclient"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	callerUser uint
)

// apiClient drives a running server through its REST API.
type apiClient struct {
	http httpclient.HTTPClient
	out  io.Writer
}

func newAPIClient() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	base := serverURL
	if base == "" {
		base = cfg.API.BaseURL
	}
	headers := map[string]string{}
	if callerUser > 0 {
		headers[http.HeaderUserID] = strconv.FormatUint(uint64(callerUser), 10)
	}
	return &apiClient{http: httpclient.New(base, cfg.API.ClientTimeout, headers), out: os.Stdout}, nil
}

func (c *apiClient) get(ctx context.Context, path string) error {
	result := new(dto.BaseResponse)
	resp, err := c.http.Get(ctx, path, nil, result)
	return c.print(resp, result, err)
}

func (c *apiClient) post(ctx context.Context, path string) error {
	result := new(dto.BaseResponse)
	resp, err := c.http.Post(ctx, path, nil, result)
	return c.print(resp, result, err)
}

// print writes the data of a successful answer, or turns the server's error
// envelope into an error.
func (c *apiClient) print(resp *httpclient.BaseResponse, result *dto.BaseResponse, err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		failure := new(dto.BaseResponse)
		if jsonErr := json.Unmarshal(statusErr.Body, failure); jsonErr == nil && failure.Message != "" {
			return fmt.Errorf("server returned %d: %s", statusErr.StatusCode, failure.Message)
		}
		return err
	}
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(body))
	return err
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}

// idCommand builds a subcommand that takes one id and calls path on the server.
func idCommand(use, short, method, pathFormat string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			path := fmt.Sprintf(pathFormat, id)
			if method == "POST" {
				return client.post(cmd.Context(), path)
			}
			return client.get(cmd.Context(), path)
		},
	}
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Work with tasks on a running server",
}

var executionCmd = &cobra.Command{
	Use:   "execution",
	Short: "Inspect and control executions on a running server",
}

func init() {
	for _, c := range []*cobra.Command{taskCmd, executionCmd} {
		c.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (defaults to api.base_url)")
		c.PersistentFlags().UintVar(&callerUser, "user", 0, "user id sent as "+http.HeaderUserID)
	}

	taskCmd.AddCommand(
		idCommand("execute", "Run the task's active version", "POST", "/api/v1/tasks/%d/execute"),
		idCommand("executions", "List recent executions of a task", "GET", "/api/v1/tasks/%d/executions"),
	)
	executionCmd.AddCommand(
		idCommand("status", "Show execution status and live resources", "GET", "/api/v1/executions/%d/status"),
		idCommand("logs", "Print execution logs", "GET", "/api/v1/executions/%d/logs"),
		idCommand("metrics", "Print execution metrics", "GET", "/api/v1/executions/%d/metrics"),
		idCommand("cancel", "Cancel a pending or running execution", "POST", "/api/v1/executions/%d/cancel"),
	)
}
