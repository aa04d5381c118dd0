package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/daemon"
	"github.com/papercomputeco/engram/pkg/memory"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testDaemon() *daemon.Daemon {
	cfg := *config.NewDefaultConfig()
	cfg.Embedding.Provider = ""
	cfg.VectorStore.Provider = ""

	d, err := daemon.New(cfg, GinkgoT().TempDir(), quietLogger)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(d.Stop)
	return d
}

var _ = Describe("Server", func() {
	var (
		server *Server
		d      *daemon.Daemon
	)

	BeforeEach(func() {
		d = testDaemon()
		server = NewServer(Config{ListenAddr: ":0"}, d, quietLogger)
	})

	get := func(path string) *http.Response {
		resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("answers ping", func() {
		resp := get("/ping")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("reports stats", func() {
		resp := get("/stats")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var stats daemon.Stats
		Expect(json.NewDecoder(resp.Body).Decode(&stats)).To(Succeed())
		Expect(stats.Provider).To(Equal("native"))
	})

	It("rejects searches without a query", func() {
		resp := get("/v1/memories/search?user_id=u1")
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("searches stored memories", func() {
		_, err := d.Provider().Add(context.Background(), &memory.Entry{
			UserID:     "u1",
			Content:    "User prefers tea over coffee",
			Type:       memory.TypePreference,
			Importance: 6,
		})
		Expect(err).NotTo(HaveOccurred())

		resp := get("/v1/memories/search?user_id=u1&query=tea")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var entries []*memory.Entry
		Expect(json.NewDecoder(resp.Body).Decode(&entries)).To(Succeed())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Content).To(ContainSubstring("tea"))
	})

	It("queues observed turns that pass the gate", func() {
		body := `{"user_id": "u1", "user_message": "I prefer tea over coffee in the mornings", "assistant_response": "noted"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/observe", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out ObserveResponse
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out.Queued).To(BeTrue())
	})

	It("skips observed turns that fail the gate", func() {
		body := `{"user_id": "u1", "user_message": "ok", "assistant_response": "great"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/observe", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())

		var out ObserveResponse
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out.Queued).To(BeFalse())
	})

	It("serves the context block for a user", func() {
		_, err := d.Provider().Add(context.Background(), &memory.Entry{
			UserID:     "u1",
			Content:    "User works at Acme",
			Type:       memory.TypeFact,
			Importance: 5,
		})
		Expect(err).NotTo(HaveOccurred())

		resp := get("/v1/context/u1")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var out ContextResponse
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		Expect(out.Block).To(ContainSubstring("Acme"))
	})

	It("lists and completes commitments", func() {
		cp := d.Provider().(memory.CommitmentProvider)
		id, err := cp.AddCommitment(context.Background(), &memory.Commitment{
			UserID:  "u1",
			Content: "send the report",
		})
		Expect(err).NotTo(HaveOccurred())

		resp := get("/v1/commitments?user_id=u1")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var commitments []*memory.Commitment
		Expect(json.NewDecoder(resp.Body).Decode(&commitments)).To(Succeed())
		Expect(commitments).To(HaveLen(1))

		req := httptest.NewRequest(http.MethodPost, "/v1/commitments/"+id+"/complete", nil)
		done, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(done.StatusCode).To(Equal(http.StatusNoContent))

		resp = get("/v1/commitments?user_id=u1")
		commitments = nil
		Expect(json.NewDecoder(resp.Body).Decode(&commitments)).To(Succeed())
		Expect(commitments).To(BeEmpty())
	})
})
