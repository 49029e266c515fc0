package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangefetch/internal/output"
	"github.com/tanq16/rangefetch/internal/scheduler"
	"github.com/tanq16/rangefetch/internal/utils"
)

var (
	outputPath    string
	connections   int
	poolSize      int
	workers       int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	bearerToken   string
	retries       int
	backoff       time.Duration
	retryStatus   []int
	bufferSize    int
	interval      time.Duration
	profile       string
	debug         bool
	logFile       bool
)

var RangefetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "rangefetch [URL]",
	Short:   "rangefetch downloads large files over parallel byte ranges",
	Version: RangefetchVersion,
	Args:    cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return utils.InitLogger(debug, logFile)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			return
		}
		link := args[0]
		if _, err := u.Parse(link); err != nil {
			output.PrintError("Invalid URL format")
			os.Exit(1)
		}
		jobType := "http"
		if strings.HasPrefix(link, "s3://") {
			jobType = "s3"
		}
		job := newJob(jobType, link, outputPath)
		runJobs([]utils.Job{job}, 1)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&connections, "connections", "c", utils.DefaultConnections, "Number of byte ranges per download (above 5 enables high-thread-mode)")
	flags.IntVar(&poolSize, "pool", 0, "Concurrent range workers per download (0 means one per range)")
	flags.DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	flags.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'X-Key: value'); can be specified multiple times")
	flags.StringVar(&bearerToken, "bearer-token", "", "Bearer token sent with every request")
	flags.IntVar(&retries, "retries", 4, "Maximum attempts per request")
	flags.DurationVar(&backoff, "backoff", time.Second, "Backoff factor; attempt n waits factor * 2^(n-1)")
	flags.IntSliceVar(&retryStatus, "retry-status", []int{429, 500, 502, 503, 504}, "Status codes that are retried")
	flags.IntVar(&bufferSize, "buffer-size", utils.DefaultChunkReadSize, "Read buffer per range worker in bytes")
	flags.DurationVar(&interval, "interval", 500*time.Millisecond, "Progress reporting interval")
	flags.StringVar(&profile, "profile", "", "AWS profile for s3:// links")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&logFile, "log-file", false, "Write logs to "+utils.LogFile+" instead of stderr")

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the server or URL if not provided)")
	rootCmd.AddCommand(newBatchCmd())
}

func httpClientConfig() utils.HTTPClientConfig {
	agent := userAgent
	if agent == utils.RandomUserAgentOption {
		agent = utils.GetRandomUserAgent()
	}
	proxy, user, pass := proxyURL, proxyUsername, proxyPassword
	// credentials embedded in the proxy URL win over empty flags
	if parsedProxy, err := u.Parse(proxy); err == nil && parsedProxy.User != nil && user == "" {
		user = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			pass = password
		}
		parsedProxy.User = nil
		proxy = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:       timeout,
		KATimeout:     kaTimeout,
		ProxyURL:      proxy,
		ProxyUsername: user,
		ProxyPassword: pass,
		UserAgent:     agent,
		BearerToken:   bearerToken,
		Headers:       utils.ParseHeaderArgs(headers),
	}
}

func retryPolicy() utils.RetryPolicy {
	policy := utils.DefaultRetryPolicy()
	policy.MaxAttempts = max(retries, 1)
	policy.BackoffFactor = backoff
	policy.RetryableStatusCodes = retryStatus
	return policy
}

func newJob(jobType, link, output string) utils.Job {
	job := utils.Job{
		JobType:          jobType,
		URL:              link,
		OutputPath:       output,
		Connections:      connections,
		PoolSize:         poolSize,
		BufferSize:       bufferSize,
		ReportInterval:   interval,
		Metadata:         make(map[string]any),
		HTTPClientConfig: httpClientConfig(),
		RetryPolicy:      retryPolicy(),
	}
	if jobType == "s3" && profile != "" {
		job.Metadata["profile"] = profile
	}
	return job
}

func runJobs(jobs []utils.Job, numWorkers int) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := scheduler.Run(ctx, jobs, numWorkers, output.NewManager()); err != nil {
		output.PrintError("Encountered failed operation(s)")
		stop()
		os.Exit(1)
	}
}
