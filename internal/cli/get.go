package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/fetcher/internal/core/config"
	"github.com/vietddude/fetcher/internal/core/domain"
	"github.com/vietddude/fetcher/internal/fetch"
	"github.com/vietddude/fetcher/internal/infra/transport"
)

var getOpts struct {
	method    string
	headers   []string
	data      string
	grpc      string
	validator string
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    float64
	include   bool
}

var getCmd = &cobra.Command{
	Use:   "get [url | /pkg.Service/Method]",
	Short: "Fetch a single resource with retries and print the body",
	Example: `  fetcher get https://api.example.com/orders --attempts 5 --base-delay 200ms
  fetcher get /grpc.health.v1.Health/Check --grpc localhost:50051`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	f := getCmd.Flags()
	f.StringVarP(&getOpts.method, "method", "X", "GET", "HTTP method")
	f.StringArrayVarP(&getOpts.headers, "header", "H", nil, `request header "Key: Value" (repeatable)`)
	f.StringVarP(&getOpts.data, "data", "d", "", "request body")
	f.StringVar(&getOpts.grpc, "grpc", "", "gRPC endpoint; the argument is then a full method name")
	f.StringVar(&getOpts.validator, "validator", "default", "response validator: default or jsonrpc")
	f.IntVar(&getOpts.attempts, "attempts", 0, "max attempts (default from config)")
	f.DurationVar(&getOpts.baseDelay, "base-delay", 0, "delay before the second attempt (default from config)")
	f.DurationVar(&getOpts.maxDelay, "max-delay", 0, "cap on a single backoff delay")
	f.Float64Var(&getOpts.jitter, "jitter", 0, "random extra delay as a fraction of the backoff (0-1)")
	f.BoolVarP(&getOpts.include, "include", "i", false, "print the status code and headers")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	headers, err := parseHeaders(getOpts.headers)
	if err != nil {
		return err
	}

	job := config.JobConfig{
		Name:      "get",
		Protocol:  domain.ProtocolHTTP,
		Method:    getOpts.method,
		Target:    args[0],
		Headers:   headers,
		Body:      getOpts.data,
		Validator: getOpts.validator,
		Retry: fetch.RetryConfig{
			MaxAttempts: getOpts.attempts,
			BaseDelay:   getOpts.baseDelay,
			MaxDelay:    getOpts.maxDelay,
			Jitter:      getOpts.jitter,
		},
	}

	var t fetch.Transport
	if getOpts.grpc != "" {
		grpcCfg := appCfg.GRPC
		grpcCfg.Endpoint = getOpts.grpc
		job.Protocol = domain.ProtocolGRPC
		t = transport.NewGRPCTransport(grpcCfg)
	} else {
		t = transport.NewHTTPTransport(appCfg.Transport)
	}

	validator := fetch.DefaultValidator
	if job.Validator == "jsonrpc" {
		validator = fetch.JSONRPCValidator
	}

	f, err := fetch.New(t,
		fetch.WithRetryConfig(job.RetryFor(appCfg.Retry)),
		fetch.WithValidator(validator),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := fetch.Fetch(ctx, f, job.Request(), passthrough)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if getOpts.include {
		printHead(cmd, resp)
	}
	_, err = out.Write(resp.Body)
	return err
}

// passthrough keeps the whole response so get can print its head.
func passthrough(resp *domain.RawResponse) (*domain.RawResponse, error) {
	return resp, nil
}

func printHead(cmd *cobra.Command, resp *domain.RawResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d\n", strings.ToUpper(string(resp.Protocol)), resp.StatusCode)

	keys := make([]string, 0, len(resp.Headers))
	for k := range resp.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %s\n", k, strings.Join(resp.Headers[k], ", "))
	}
	fmt.Fprintln(out)
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", h)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}
