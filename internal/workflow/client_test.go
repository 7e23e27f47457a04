package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/sheet-filter/internal/dataset"
	"github.com/kubev2v/sheet-filter/internal/workflow"
)

type recordedRun struct {
	Authorization string
	Inputs        map[string]json.RawMessage `json:"inputs"`
	ResponseMode  string                     `json:"response_mode"`
	User          string                     `json:"user"`
}

func resultWorkbook(ids ...int) []byte {
	rows := make([]dataset.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, dataset.Row{dataset.IDColumn: dataset.RowID(id), "name": fmt.Sprintf("row %d", id)})
	}
	d, err := dataset.New([]string{dataset.IDColumn, "name"}, rows)
	Expect(err).To(BeNil())
	content, err := dataset.Encode(d)
	Expect(err).To(BeNil())
	return content
}

func newTestClient(url string, mode string) *workflow.Client {
	return workflow.NewClient(workflow.Config{
		BaseURL:          url,
		APIKey:           "secret",
		InputVariable:    "input_file",
		OutputVariable:   "result",
		CriteriaVariable: "which_aspects",
		ResponseMode:     mode,
		User:             "tester",
		RequestTimeout:   5 * time.Second,
		DownloadTimeout:  5 * time.Second,
	})
}

var _ = Describe("workflow client", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Run", func() {
		It("sends the document reference and criteria and reads inline ids", func() {
			var got recordedRun
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/workflows/run"))
				got.Authorization = r.Header.Get("Authorization")
				Expect(json.NewDecoder(r.Body).Decode(&got)).To(Succeed())

				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, sse(
					`data: {"event":"workflow_started","data":{}}`,
					`data: {"event":"workflow_finished","data":{"outputs":{"result":[3,17]}}}`,
				))
			}))
			defer server.Close()

			result, err := newTestClient(server.URL, workflow.ResponseModeStreaming).Run(ctx, 0, "http://files/chunk_0.xlsx", "red only")
			Expect(err).To(BeNil())
			Expect(result.ChunkID).To(Equal(0))
			Expect(result.Matched).To(Equal([]dataset.RowID{3, 17}))
			Expect(result.Reference).To(BeEmpty())

			Expect(got.Authorization).To(Equal("Bearer secret"))
			Expect(got.ResponseMode).To(Equal("streaming"))
			Expect(got.User).To(Equal("tester"))
			Expect(string(got.Inputs["which_aspects"])).To(Equal(`"red only"`))
			Expect(string(got.Inputs["input_file"])).To(MatchJSON(`{"type":"document","transfer_method":"remote_url","url":"http://files/chunk_0.xlsx"}`))
		})

		It("downloads a referenced result and reads its identifiers", func() {
			mux := http.NewServeMux()
			server := httptest.NewServer(mux)
			defer server.Close()

			mux.HandleFunc("/result.xlsx", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", dataset.ContentType)
				_, _ = w.Write(resultWorkbook(31))
			})
			mux.HandleFunc("/workflows/run", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = fmt.Fprintf(w, `{"data":{"outputs":{"result":"%s/result.xlsx"}}}`, server.URL)
			})

			result, err := newTestClient(server.URL, workflow.ResponseModeBlocking).Run(ctx, 1, "http://files/chunk_1.xlsx", "")
			Expect(err).To(BeNil())
			Expect(result.Matched).To(Equal([]dataset.RowID{31}))
			Expect(result.Reference).To(Equal(server.URL + "/result.xlsx"))
		})

		It("counts an unrecognized output as zero matches", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, `{"data":{"outputs":{"result":"no rows matched"}}}`)
			}))
			defer server.Close()

			result, err := newTestClient(server.URL, workflow.ResponseModeBlocking).Run(ctx, 2, "http://files/c.xlsx", "")
			Expect(err).To(BeNil())
			Expect(result.Matched).To(BeEmpty())
		})

		DescribeTable("maps failure statuses",
			func(status int, check func(error) bool) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(status)
					_, _ = io.WriteString(w, `{"message":"nope"}`)
				}))
				defer server.Close()

				_, err := newTestClient(server.URL, workflow.ResponseModeStreaming).Run(ctx, 0, "http://files/c.xlsx", "")
				Expect(err).NotTo(BeNil())
				Expect(check(err)).To(BeTrue())
			},
			Entry("400 is a business rejection", http.StatusBadRequest, func(err error) bool {
				var e *workflow.ErrBusiness
				return errors.As(err, &e) && e.StatusCode == http.StatusBadRequest
			}),
			Entry("503 is unavailability", http.StatusServiceUnavailable, func(err error) bool {
				var e *workflow.ErrServiceUnavailable
				return errors.As(err, &e) && e.StatusCode == http.StatusServiceUnavailable
			}),
			Entry("500 is unavailability", http.StatusInternalServerError, func(err error) bool {
				var e *workflow.ErrServiceUnavailable
				return errors.As(err, &e)
			}),
		)

		It("fails when the stream carries no outputs", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				_, _ = io.WriteString(w, sse(`data: {"event":"ping","data":{}}`))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL, workflow.ResponseModeStreaming).Run(ctx, 0, "http://files/c.xlsx", "")
			Expect(workflow.IsNoOutput(err)).To(BeTrue())
		})

		It("fails when the referenced result cannot be downloaded", func() {
			mux := http.NewServeMux()
			server := httptest.NewServer(mux)
			defer server.Close()

			mux.HandleFunc("/workflows/run", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = fmt.Fprintf(w, `{"data":{"outputs":{"result":"%s/missing.xlsx"}}}`, server.URL)
			})

			_, err := newTestClient(server.URL, workflow.ResponseModeBlocking).Run(ctx, 0, "http://files/c.xlsx", "")
			var e *workflow.ErrDownload
			Expect(errors.As(err, &e)).To(BeTrue())
		})

		It("honours context cancellation", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			}))
			defer server.Close()

			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			_, err := newTestClient(server.URL, workflow.ResponseModeStreaming).Run(cctx, 0, "http://files/c.xlsx", "")
			Expect(err).NotTo(BeNil())
		})
	})

	Describe("Forward", func() {
		It("passes the body through with credentials", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/files/upload"))
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer secret"))
				Expect(r.Header.Get("Content-Type")).To(Equal("text/plain"))
				body, _ := io.ReadAll(r.Body)
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write(body)
			}))
			defer server.Close()

			c := newTestClient(server.URL, workflow.ResponseModeStreaming)
			resp, err := c.Forward(ctx, c.UploadPath(), strings.NewReader("hello"), "text/plain")
			Expect(err).To(BeNil())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("hello"))
		})
	})
})

type memoryBlobs struct {
	mu    sync.Mutex
	names []string
	blobs map[string][]byte
}

func (m *memoryBlobs) Put(_ context.Context, name string, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = map[string][]byte{}
	}
	m.names = append(m.names, name)
	m.blobs[name] = content
	return "http://blobs/" + name, nil
}

var _ = Describe("ChunkRunner", func() {
	It("publishes the chunk and runs the workflow on its URL", func() {
		var fileURL string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req recordedRun
			Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
			var input map[string]string
			Expect(json.Unmarshal(req.Inputs["input_file"], &input)).To(Succeed())
			fileURL = input["url"]

			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"data":{"outputs":{"result":[1]}}}`)
		}))
		defer server.Close()

		d, err := dataset.New([]string{dataset.IDColumn, "name"}, []dataset.Row{
			{dataset.IDColumn: dataset.RowID(0), "name": "a"},
			{dataset.IDColumn: dataset.RowID(1), "name": "b"},
		})
		Expect(err).To(BeNil())

		blobs := &memoryBlobs{}
		runner := workflow.NewChunkRunner(newTestClient(server.URL, workflow.ResponseModeBlocking), blobs, "anything")

		result, err := runner.ProcessChunk(context.Background(), dataset.Chunk{ID: 4, Rows: *d})
		Expect(err).To(BeNil())
		Expect(result.ChunkID).To(Equal(4))
		Expect(result.Matched).To(Equal([]dataset.RowID{1}))

		Expect(blobs.names).To(HaveLen(1))
		Expect(blobs.names[0]).To(MatchRegexp(`^chunk_4_[0-9a-f]{8}\.xlsx$`))
		Expect(fileURL).To(Equal("http://blobs/" + blobs.names[0]))
		Expect(runner.Published()).To(Equal(blobs.names))

		ids, err := dataset.ReadIdentifiers(blobs.blobs[blobs.names[0]])
		Expect(err).To(BeNil())
		Expect(ids).To(Equal([]dataset.RowID{0, 1}))
	})
})

var _ = Describe("referenced results without identifiers", func() {
	It("succeeds with an unresolved reference", func() {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		mux.HandleFunc("/plain.xlsx", func(w http.ResponseWriter, r *http.Request) {
			d, err := dataset.New([]string{"name"}, []dataset.Row{{"name": "a"}})
			Expect(err).To(BeNil())
			content, err := dataset.Encode(d)
			Expect(err).To(BeNil())
			_, _ = w.Write(content)
		})
		mux.HandleFunc("/workflows/run", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"data":{"outputs":{"result":"%s/plain.xlsx"}}}`, server.URL)
		})

		result, err := newTestClient(server.URL, workflow.ResponseModeBlocking).Run(context.Background(), 3, "http://files/c.xlsx", "")
		Expect(err).To(BeNil())
		Expect(result.Reference).To(Equal(server.URL + "/plain.xlsx"))
		Expect(result.Matched).To(BeNil())
	})
})
