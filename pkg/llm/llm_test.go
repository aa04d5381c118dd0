package llm_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/llm"
)

var _ = Describe("NewCaller", func() {
	It("rejects unknown providers", func() {
		_, err := llm.NewCaller(llm.Config{Provider: "carrier-pigeon"})
		Expect(err).To(HaveOccurred())
	})

	It("defaults to ollama when no provider is set", func() {
		caller, err := llm.NewCaller(llm.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(caller.Model()).To(Equal("llama3.2"))
	})
})

var _ = Describe("Ollama caller", func() {
	It("returns the completion text", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/chat"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"pong"},"done":true}`))
		}))
		defer srv.Close()

		caller, err := llm.NewCaller(llm.Config{Provider: "ollama", BaseURL: srv.URL, Model: "test"})
		Expect(err).NotTo(HaveOccurred())

		out, err := caller.Complete(context.Background(), "ping")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("pong"))
	})

	It("classifies server errors as unavailable", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		caller, err := llm.NewCaller(llm.Config{Provider: "ollama", BaseURL: srv.URL, Model: "test"})
		Expect(err).NotTo(HaveOccurred())

		_, err = caller.Complete(context.Background(), "ping")
		Expect(err).To(MatchError(llm.ErrUnavailable))
	})

	It("classifies unreachable backends as unavailable", func() {
		caller, err := llm.NewCaller(llm.Config{Provider: "ollama", BaseURL: "http://127.0.0.1:1", Model: "test"})
		Expect(err).NotTo(HaveOccurred())

		_, err = caller.Complete(context.Background(), "ping")
		Expect(err).To(MatchError(llm.ErrUnavailable))
	})

	It("classifies garbage payloads as malformed", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json at all {"))
		}))
		defer srv.Close()

		caller, err := llm.NewCaller(llm.Config{Provider: "ollama", BaseURL: srv.URL, Model: "test"})
		Expect(err).NotTo(HaveOccurred())

		_, err = caller.Complete(context.Background(), "ping")
		Expect(err).To(MatchError(llm.ErrMalformed))
	})
})
