package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	apiserver "github.com/kubev2v/sheet-filter/internal/api_server"
	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/service"
	"github.com/kubev2v/sheet-filter/internal/store"
)

type ProcessOptions struct {
	GlobalOptions

	Criteria   string
	OutputFile string
	Output     string

	out io.Writer
}

type processSummary struct {
	JobID            string      `json:"job_id"`
	File             string      `json:"file"`
	Rows             int         `json:"rows"`
	TotalChunks      int         `json:"total_chunks"`
	SuccessfulChunks int         `json:"successful_chunks"`
	RetryMode        string      `json:"retry_mode"`
	TotalRetries     int         `json:"total_retries"`
	ChunkRetries     map[int]int `json:"chunk_retries,omitempty"`
	Elapsed          string      `json:"elapsed"`
}

func DefaultProcessOptions() *ProcessOptions {
	return &ProcessOptions{
		GlobalOptions: DefaultGlobalOptions(),
		out:           os.Stdout,
	}
}

func NewCmdProcess() *cobra.Command {
	o := DefaultProcessOptions()
	cmd := &cobra.Command{
		Use:   "process FILE",
		Short: "Filter a spreadsheet once and write the result locally.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ProcessOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.Criteria, "criteria", o.Criteria, "Filtering criteria sent to the workflow.")
	fs.StringVarP(&o.OutputFile, "file", "f", o.OutputFile, "Where to write the filtered spreadsheet.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Summary format. One of: (json, yaml).")
}

func (o *ProcessOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *ProcessOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := service.CheckExtension(args[0], service.ReadableExtensions); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *ProcessOptions) Run(ctx context.Context, args []string) error {
	c, cleanup, err := NewComponents(o.ConfigFile)
	if err != nil {
		return err
	}
	defer cleanup()

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if c.Files != nil {
		stop := serveDownloads(ctx, c.Config.Service.Address, c.Files)
		defer stop()
	}

	res, err := c.Filter.ProcessDataset(ctx, service.ProcessRequest{
		Filename: filepath.Base(args[0]),
		Content:  content,
		Criteria: o.Criteria,
	})
	if err != nil {
		return err
	}

	encoded, err := dataset.Encode(res.Result.Dataset)
	if err != nil {
		return err
	}
	target := o.OutputFile
	if target == "" {
		target = fmt.Sprintf("filtered_%s.xlsx", res.JobID)
	}
	if err := os.WriteFile(target, encoded, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	zap.S().Named("cli").Infow("result written", "file", target, "rows", res.Result.Dataset.Len())

	summary := res.Result.Summary
	return o.print(processSummary{
		JobID:            res.JobID,
		File:             target,
		Rows:             res.Result.Dataset.Len(),
		TotalChunks:      summary.TotalChunks,
		SuccessfulChunks: summary.SuccessfulChunks,
		RetryMode:        summary.RetryMode,
		TotalRetries:     summary.TotalRetries,
		ChunkRetries:     summary.ChunkRetries,
		Elapsed:          summary.Elapsed.Round(time.Millisecond).String(),
	})
}

// serveDownloads publishes the local download directory on address for as
// long as the job runs. A busy address is taken to be a running api server
// sharing the same directory.
func serveDownloads(ctx context.Context, address string, files *store.Local) func() {
	logger := zap.S().Named("cli")

	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Warnw("not serving chunk files, expecting a running server to do it", "address", address, "error", err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := apiserver.NewDownloadServer(files, listener).Run(ctx); err != nil {
			logger.Errorw("download server failed", "error", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (o *ProcessOptions) print(s processSummary) error {
	if done, err := printStructured(o.out, s, o.Output); done {
		return err
	}

	w := tabwriter.NewWriter(o.out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "JOB\tFILE\tROWS\tCHUNKS\tSUCCEEDED\tRETRIES\tELAPSED")
	fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n", s.JobID, s.File, s.Rows, s.TotalChunks, s.SuccessfulChunks, s.TotalRetries, s.Elapsed)
	return w.Flush()
}
