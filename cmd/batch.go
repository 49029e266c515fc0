package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangefetch/internal/output"
	"github.com/tanq16/rangefetch/internal/utils"
	"gopkg.in/yaml.v3"
)

// BatchFile maps a job type to its entries, e.g.
//
//	http:
//	  - link: https://example.com/a.iso
//	    op: isos/a.iso
//	s3:
//	  - link: s3://bucket/key
type BatchFile map[string][]utils.DownloadEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading YAML file: %v", err))
				os.Exit(1)
			}
			jobs, err := parseBatchFile(data)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			runJobs(jobs, workers)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of links to download in parallel")
	return cmd
}

func parseBatchFile(data []byte) ([]utils.Job, error) {
	var batchFile BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %v", err)
	}
	sections := make([]string, 0, len(batchFile))
	for section := range batchFile {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	var jobs []utils.Job
	for _, section := range sections {
		jobType := normalizeJobType(section)
		if jobType == "" {
			output.PrintWarning(fmt.Sprintf("Unknown job type '%s', skipping...", section))
			continue
		}
		for _, entry := range batchFile[section] {
			if entry.URL == "" {
				output.PrintWarning(fmt.Sprintf("Empty link found in %s section, skipping...", section))
				continue
			}
			jobs = append(jobs, newJob(jobType, entry.URL, entry.OutputPath))
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no valid jobs found in the batch file")
	}
	return jobs, nil
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(jobType) {
	case "http", "https":
		return "http"
	case "s3":
		return "s3"
	default:
		return ""
	}
}
