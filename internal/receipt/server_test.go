package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// multipartPhoto builds a multipart body with a single "photo" part
func multipartPhoto(filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="photo"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	return body, writer.FormDataContentType()
}

func doRequest(method, url, token string, body io.Reader, contentType string) *http.Response {
	req, err := http.NewRequest(method, url, body)
	Expect(err).NotTo(HaveOccurred())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		verifier    *mockVerifier
		extractor   *mockExtractor
		storage     *mockStorage
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
	)

	jpegBytes := []byte{0xff, 0xd8, 0xff, 0xe0}

	BeforeEach(func() {
		db = newMockDB()
		verifier = newMockVerifier()
		extractor = newMockExtractor()
		storage = newMockStorage()
		service = NewService(db, verifier, extractor, storage)
		server = NewServerWithMux(service, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("POST /api/receipts", func() {
		When("the upload is a valid image with a valid token", func() {
			It("should return 201 with the created receipt", func() {
				body, contentType := multipartPhoto("receipt.jpg", "image/jpeg", jpegBytes)
				resp := doRequest("POST", ghttpServer.URL()+"/api/receipts", "token-alice", body, contentType)
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var record Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&record)).To(Succeed())
				Expect(record.ID).NotTo(BeEmpty())
				Expect(record.UserID).To(Equal("alice"))
				Expect(record.CompanyName).To(Equal("Acme Foods"))
				Expect(record.Image).NotTo(BeEmpty())
			})
		})

		When("no token is supplied", func() {
			It("should return 401 and write nothing", func() {
				body, contentType := multipartPhoto("receipt.jpg", "image/jpeg", jpegBytes)
				resp := doRequest("POST", ghttpServer.URL()+"/api/receipts", "", body, contentType)
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(storage.putCalls).To(BeZero())
				Expect(db.appendCalls).To(BeZero())
			})
		})

		When("the upload is not an image", func() {
			It("should return 400 before any backend call", func() {
				body, contentType := multipartPhoto("doc.pdf", "application/pdf", []byte("%PDF-1.4"))
				resp := doRequest("POST", ghttpServer.URL()+"/api/receipts", "token-alice", body, contentType)
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(extractor.calls).To(BeZero())
				Expect(storage.putCalls).To(BeZero())
			})
		})

		When("no file part is present", func() {
			It("should return 400", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.Close()).To(Succeed())

				resp := doRequest("POST", ghttpServer.URL()+"/api/receipts", "token-alice", body, writer.FormDataContentType())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.err = errors.New("model down")
			})

			It("should return 502 with the error message", func() {
				body, contentType := multipartPhoto("receipt.jpg", "image/jpeg", jpegBytes)
				resp := doRequest("POST", ghttpServer.URL()+"/api/receipts", "token-alice", body, contentType)
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				var payload map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
				Expect(payload["error"]).To(ContainSubstring("extraction failed"))
			})
		})
	})

	Describe("GET /api/receipts", func() {
		When("the user has no receipts", func() {
			It("should return 200 with an empty JSON array", func() {
				resp := doRequest("GET", ghttpServer.URL()+"/api/receipts", "token-alice", nil, "")
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(MatchJSON("[]"))
			})
		})

		When("receipts exist for several users", func() {
			BeforeEach(func() {
				ctx := context.Background()
				_, err := service.ProcessReceipt(ctx, "token-alice", "a.jpg", jpegBytes, "image/jpeg")
				Expect(err).NotTo(HaveOccurred())
				_, err = service.ProcessReceipt(ctx, "token-bob", "b.jpg", jpegBytes, "image/jpeg")
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return only the caller's receipts", func() {
				resp := doRequest("GET", ghttpServer.URL()+"/api/receipts", "token-alice", nil, "")
				defer resp.Body.Close()

				var receipts []*Receipt
				Expect(json.NewDecoder(resp.Body).Decode(&receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].UserID).To(Equal("alice"))
			})
		})

		When("no token is supplied", func() {
			It("should return 401", func() {
				resp := doRequest("GET", ghttpServer.URL()+"/api/receipts", "", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})
	})

	Describe("DELETE /api/receipts/{id}", func() {
		var existing *Receipt

		BeforeEach(func() {
			var err error
			existing, err = service.ProcessReceipt(context.Background(), "token-alice", "a.jpg", jpegBytes, "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
		})

		When("the caller owns the receipt", func() {
			It("should return 204 and remove the record", func() {
				resp := doRequest("DELETE", ghttpServer.URL()+"/api/receipts/"+existing.ID, "token-alice", nil, "")
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(db.receipts).NotTo(HaveKey(existing.ID))
			})
		})

		When("another user attempts the delete", func() {
			It("should return 403 and leave the record", func() {
				resp := doRequest("DELETE", ghttpServer.URL()+"/api/receipts/"+existing.ID, "token-bob", nil, "")
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
				Expect(db.receipts).To(HaveKey(existing.ID))
			})
		})

		When("the receipt does not exist", func() {
			It("should return 404", func() {
				resp := doRequest("DELETE", ghttpServer.URL()+"/api/receipts/no-such-id", "token-alice", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("GET /api/receipts/{id}/image", func() {
		var existing *Receipt

		BeforeEach(func() {
			var err error
			existing, err = service.ProcessReceipt(context.Background(), "token-alice", "a.jpg", jpegBytes, "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
		})

		When("the caller owns the receipt", func() {
			It("should return a fresh signed URL", func() {
				resp := doRequest("GET", ghttpServer.URL()+"/api/receipts/"+existing.ID+"/image", "token-alice", nil, "")
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var payload map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
				Expect(payload["url"]).To(ContainSubstring(existing.ImagePath))
			})
		})

		When("another user requests it", func() {
			It("should return 403", func() {
				resp := doRequest("GET", ghttpServer.URL()+"/api/receipts/"+existing.ID+"/image", "token-bob", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			})
		})
	})

	Describe("GET /healthz", func() {
		It("should return 200 without authentication", func() {
			resp := doRequest("GET", ghttpServer.URL()+"/healthz", "", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
