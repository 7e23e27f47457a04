package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kubev2v/sheet-filter/internal/dispatcher"
	"github.com/kubev2v/sheet-filter/internal/service"
)

type JobsOptions struct {
	GlobalOptions

	Output string

	httpClient *http.Client
	out        io.Writer
}

type jobList struct {
	Jobs []service.JobInfo `json:"jobs"`
}

func DefaultJobsOptions() *JobsOptions {
	return &JobsOptions{
		GlobalOptions: DefaultGlobalOptions(),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		out:           os.Stdout,
	}
}

func NewCmdJobs() *cobra.Command {
	o := DefaultJobsOptions()
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the jobs a running server is dispatching.",
		Args:  cobra.NoArgs,
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

func (o *JobsOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *JobsOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *JobsOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

func (o *JobsOptions) Run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(o.ServerUrl, "/")+"/jobs", nil)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing jobs: %d", resp.StatusCode)
	}

	var list jobList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decoding jobs: %w", err)
	}

	if done, err := printStructured(o.out, list, o.Output); done {
		return err
	}
	return printJobsTable(o.out, list.Jobs)
}

func printJobsTable(out io.Writer, jobs []service.JobInfo) error {
	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "JOB\tFILE\tSTARTED\tPENDING\tRUNNING\tSUCCEEDED\tRETRIES")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			j.JobID,
			j.Filename,
			j.StartedAt.Format(time.RFC3339),
			j.Chunks.Count(dispatcher.Pending),
			j.Chunks.Count(dispatcher.Running),
			j.Chunks.Count(dispatcher.Succeeded),
			j.Chunks.TotalRetries(),
		)
	}
	return w.Flush()
}
