package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"concord/internal/orchestrator"
	"concord/internal/types"
)

// nopDispatcher lets commands build an orchestrator for validation
// without a live registry.
type nopDispatcher struct{}

func (nopDispatcher) ExecuteTask(_ context.Context, task *types.Task, _ string) (*types.TaskResult, error) {
	return &types.TaskResult{TaskID: task.ID, Success: true}, nil
}

var _ orchestrator.Dispatcher = nopDispatcher{}

// statusCmd scrapes a running instance's metrics endpoint and prints
// the platform counters.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print counters of a running instance",
	Long: `Reads the Prometheus endpoint of a running instance (metrics must
be enabled in its config) and prints the concord counters.`,
	RunE: showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	addr := cfg.Metrics.Listen
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := "http://" + addr + "/metrics"

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("no running instance at %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from %s: %s", url, resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "concord_") {
			fmt.Println(line)
		}
	}
	return scanner.Err()
}
