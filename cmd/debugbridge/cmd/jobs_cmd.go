package cmd

import (
	"encoding/json"
	"fmt"

	"debugbridge/internal/cache"
	"debugbridge/internal/jobs"
	"debugbridge/internal/orchestrator"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func NewJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Queue pipeline runs on redis and read their results",
	}
	jobsCmd.AddCommand(newJobsEnqueueCmd())
	jobsCmd.AddCommand(newJobsResultCmd())
	return jobsCmd
}

func newJobsEnqueueCmd() *cobra.Command {
	var file, template string
	c := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a template or pipeline file for a serving debugbridge to run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			sub, err := readSubmission(template, file)
			if err != nil {
				return err
			}
			body, err := encodeSubmission(sub)
			if err != nil {
				return err
			}
			client, err := jobsRedis(cfg.Redis.URL)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := jobs.Enqueue(cmd.Context(), client, cfg.Jobs.Stream, body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	c.Flags().StringVar(&file, "file", "", "pipeline file (.json, .yaml, .toml)")
	c.Flags().StringVar(&template, "template", "", "built-in template name")
	return c
}

func newJobsResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <id>",
		Short: "Print the stored result of a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			client, err := jobsRedis(cfg.Redis.URL)
			if err != nil {
				return err
			}
			defer client.Close()

			res, ok, err := jobs.LoadResult(cmd.Context(), client, cfg.Redis.KeyPrefix, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s has no result (still queued, running, or expired)", args[0])
			}
			return writeIndentedJSON(cmd.OutOrStdout(), res)
		},
	}
}

func encodeSubmission(sub orchestrator.Submission) ([]byte, error) {
	req := orchestrator.RunRequest{Template: sub.Template}
	if sub.Pipeline != nil {
		raw, err := json.Marshal(sub.Pipeline)
		if err != nil {
			return nil, err
		}
		req.Pipeline = raw
	}
	return json.Marshal(req)
}

func jobsRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("jobs need redis.url")
	}
	return cache.NewRedisClient(url)
}
