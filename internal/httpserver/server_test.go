package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilient-gateway/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	Context("server creation", func() {
		It("creates server with valid address", func() {
			srv, err := httpserver.New("localhost:9999", noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("creates server with IP address", func() {
			srv, err := httpserver.New("127.0.0.1:9999", noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("handles port-only address", func() {
			srv, err := httpserver.New(":9999", noop, httpserver.WithWriteTimeout(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("rejects invalid address", func() {
			srv, err := httpserver.New("invalid:host:port", noop)
			Expect(err).To(HaveOccurred())
			Expect(srv).To(BeNil())
		})

		It("rejects an address without a port", func() {
			_, err := httpserver.New("localhost", noop)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("server lifecycle", func() {
		var (
			testServer *httpserver.Server
			listener   net.Listener
		)

		BeforeEach(func() {
			var err error
			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			if testServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
				defer cancel()
				_ = testServer.Shutdown(ctx)
			}
		})

		It("starts and handles requests", func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("test"))
			})
			var err error
			testServer, err = httpserver.New(listener.Addr().String(), handler)
			Expect(err).NotTo(HaveOccurred())

			go func() {
				_ = testServer.Serve(listener)
			}()

			var resp *http.Response
			Eventually(func() error {
				resp, err = http.Get("http://" + listener.Addr().String())
				return err
			}).Should(Succeed())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("shuts down gracefully", func() {
			var err error
			testServer, err = httpserver.New(listener.Addr().String(), noop,
				httpserver.WithShutdownTimeout(2*time.Second))
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() {
				done <- testServer.Serve(listener)
			}()

			Eventually(func() error {
				_, err := http.Get("http://" + listener.Addr().String())
				return err
			}).Should(Succeed())

			Expect(testServer.Shutdown(context.Background())).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
