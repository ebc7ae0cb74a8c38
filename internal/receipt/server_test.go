package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-tracker/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, scanner, storage,
			&mockIDGenerator{id: "new-id"},
			&mockTimeSource{now: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)},
		)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(method, path, contentType string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	doJSON := func(method, path string, v any) *http.Response {
		body, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return do(method, path, "application/json", bytes.NewReader(body))
	}

	readBody := func(resp *http.Response) string {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	upload := func(filename, contentType string, data []byte, fields map[string]string) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for k, v := range fields {
			Expect(writer.WriteField(k, v)).To(Succeed())
		}
		if filename != "" {
			header := textproto.MIMEHeader{}
			header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
			if contentType != "" {
				header.Set("Content-Type", contentType)
			}
			part, err := writer.CreatePart(header)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())
		return do(http.MethodPost, "/api/receipts", writer.FormDataContentType(), body)
	}

	Describe("handleIndex", func() {
		It("serves the dashboard", func() {
			resp := do(http.MethodGet, "/", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/html"))
			Expect(readBody(resp)).To(ContainSubstring("Expense Tracker"))
		})

		It("rejects other methods", func() {
			resp := do(http.MethodPost, "/", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("static assets", func() {
		It("serves the stylesheet", func() {
			resp := do(http.MethodGet, "/static/app.css", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/css"))
		})

		It("serves controller modules as JavaScript", func() {
			resp := do(http.MethodGet, "/static/controllers/receipts_controller.js", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/javascript"))
		})
	})

	Describe("handleListReceipts", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", Vendor: "Test 1", Property: "Maple Court", Status: StatusPending}
			db.receipts["id2"] = &Receipt{ID: "id2", Vendor: "Test 2", Property: "Oak Street", Status: StatusApproved}
		})

		It("returns all receipts as JSON", func() {
			resp := do(http.MethodGet, "/api/receipts", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var receipts []*Receipt
			decode(resp, &receipts)
			Expect(receipts).To(HaveLen(2))
		})

		It("filters by property and status", func() {
			resp := do(http.MethodGet, "/api/receipts?property=oak+street&status=approved", "", nil)
			var receipts []*Receipt
			decode(resp, &receipts)
			Expect(receipts).To(HaveLen(1))
			Expect(receipts[0].ID).To(Equal("id2"))
		})

		It("rejects an unknown status filter", func() {
			resp := do(http.MethodGet, "/api/receipts?status=archived", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("no receipts exist", func() {
			BeforeEach(func() {
				db.receipts = make(map[string]*Receipt)
			})

			It("returns an empty array", func() {
				resp := do(http.MethodGet, "/api/receipts", "", nil)
				Expect(strings.TrimSpace(readBody(resp))).To(Equal("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("database error")
			})

			It("returns a generic internal error", func() {
				resp := do(http.MethodGet, "/api/receipts", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(Equal("Internal server error"))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		It("creates a pending receipt from the extraction", func() {
			resp := upload("receipt.jpg", "image/jpeg", []byte("fake image"), map[string]string{
				"submitter": "Jane Doe",
				"property":  "Maple Court",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.ID).To(Equal("new-id"))
			Expect(receipt.Vendor).To(Equal("Test Vendor"))
			Expect(receipt.Amount).To(Equal(int64(2599)))
			Expect(receipt.Property).To(Equal("Maple Court"))
			Expect(receipt.Status).To(Equal(StatusPending))
			Expect(db.receipts).To(HaveKey("new-id"))
		})

		It("guesses the content type from the extension", func() {
			resp := upload("scan.pdf", "", []byte("%PDF-1.4"), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.receipts["new-id"].ContentType).To(Equal("application/pdf"))
		})

		When("the model returns nothing usable", func() {
			BeforeEach(func() {
				scanner.raw = scanning.RawText("")
			})

			It("still creates the receipt with fallbacks", func() {
				resp := upload("receipt.jpg", "image/jpeg", []byte("fake image"), map[string]string{"note": "Ace Hardware"})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var receipt Receipt
				decode(resp, &receipt)
				Expect(receipt.Vendor).To(Equal("Ace Hardware"))
				Expect(receipt.Amount).To(BeZero())
			})
		})

		When("no file is provided", func() {
			It("returns a bad request", func() {
				resp := upload("", "", nil, map[string]string{"submitter": "Jane"})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("No file was selected"))
			})
		})

		When("the form is not multipart", func() {
			It("returns a bad request", func() {
				resp := do(http.MethodPost, "/api/receipts", "text/plain", strings.NewReader("not multipart"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(Equal("Error parsing form"))
			})
		})

		When("the scanner fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("model unavailable")
			})

			It("returns a bad gateway without leaking the cause", func() {
				resp := upload("receipt.jpg", "image/jpeg", []byte("fake image"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(readBody(resp)).NotTo(ContainSubstring("model unavailable"))
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("the file cannot be stored", func() {
			BeforeEach(func() {
				storage.saveErr = errors.New("disk full")
			})

			It("returns an internal error", func() {
				resp := upload("receipt.jpg", "image/jpeg", []byte("fake image"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(Equal("Internal server error"))
			})
		})

		When("the receipt cannot be saved", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("database locked")
			})

			It("returns an internal error", func() {
				resp := upload("receipt.jpg", "image/jpeg", []byte("fake image"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(storage.files).To(BeEmpty())
			})
		})
	})

	Describe("handleGetReceipt", func() {
		BeforeEach(func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id", Vendor: "Test Receipt"}
		})

		It("returns the receipt", func() {
			resp := do(http.MethodGet, "/api/receipts/test-id", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decode(resp, &receipt)
			Expect(receipt.Vendor).To(Equal("Test Receipt"))
		})

		It("returns not found for unknown receipts", func() {
			resp := do(http.MethodGet, "/api/receipts/nonexistent", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleUpdateReceipt", func() {
		BeforeEach(func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id", Vendor: scanning.UnknownVendor, Status: StatusPending, PaymentStatus: PaymentUnpaid}
		})

		It("applies the edits", func() {
			resp := doJSON(http.MethodPatch, "/api/receipts/test-id", map[string]any{
				"vendor": "Home Depot",
				"amount": 19.99,
				"date":   "2024-02-29",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.receipts["test-id"].Vendor).To(Equal("Home Depot"))
			Expect(db.receipts["test-id"].Amount).To(Equal(int64(1999)))
		})

		It("rejects a non-positive amount", func() {
			resp := doJSON(http.MethodPatch, "/api/receipts/test-id", map[string]any{"amount": 0})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed body", func() {
			resp := do(http.MethodPatch, "/api/receipts/test-id", "application/json", strings.NewReader("{"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the receipt is paid", func() {
			BeforeEach(func() {
				db.receipts["test-id"].PaymentStatus = PaymentPaid
			})

			It("returns a conflict", func() {
				resp := doJSON(http.MethodPatch, "/api/receipts/test-id", map[string]any{"vendor": "Target"})
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})
	})

	Describe("handleTransitionReceipt", func() {
		BeforeEach(func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id", Amount: 1000, Status: StatusPending}
		})

		It("approves a pending receipt", func() {
			resp := doJSON(http.MethodPost, "/api/receipts/test-id/status", map[string]string{"status": "approved"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.receipts["test-id"].Status).To(Equal(StatusApproved))
		})

		It("rejects an unknown status", func() {
			resp := doJSON(http.MethodPost, "/api/receipts/test-id/status", map[string]string{"status": "archived"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the transition is not allowed", func() {
			BeforeEach(func() {
				db.receipts["test-id"].Status = StatusApproved
			})

			It("returns a conflict", func() {
				resp := doJSON(http.MethodPost, "/api/receipts/test-id/status", map[string]string{"status": "rejected"})
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})
	})

	Describe("handleGetReceiptFile", func() {
		When("receipt and file exist", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{ID: "test-id", Filename: "test-file.png", ContentType: "image/png"}
				storage.files["test-file.png"] = []byte("png data")
			})

			It("returns the file with its content type", func() {
				resp := do(http.MethodGet, "/api/receipts/test-id/file", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
				Expect(readBody(resp)).To(Equal("png data"))
			})
		})

		When("the file is missing from storage", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{ID: "test-id", Filename: "missing.png"}
			})

			It("returns not found", func() {
				resp := do(http.MethodGet, "/api/receipts/test-id/file", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("storage fails to read the file", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{ID: "test-id", Filename: "test-file.png"}
				storage.getErr = errors.New("input/output error")
			})

			It("returns an internal error", func() {
				resp := do(http.MethodGet, "/api/receipts/test-id/file", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(readBody(resp)).NotTo(ContainSubstring("input/output"))
			})
		})

		When("the receipt does not exist", func() {
			It("returns not found", func() {
				resp := do(http.MethodGet, "/api/receipts/nonexistent/file", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleDeleteReceipt", func() {
		BeforeEach(func() {
			db.receipts["test-id"] = &Receipt{ID: "test-id", Filename: "test-file.jpg"}
			storage.files["test-file.jpg"] = []byte("data")
		})

		It("removes the receipt and its file", func() {
			resp := do(http.MethodDelete, "/api/receipts/test-id", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).NotTo(HaveKey("test-id"))
			Expect(storage.files).NotTo(HaveKey("test-file.jpg"))
		})

		It("returns not found for unknown receipts", func() {
			resp := do(http.MethodDelete, "/api/receipts/nonexistent", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("payments", func() {
		BeforeEach(func() {
			db.receipts["a"] = &Receipt{ID: "a", Amount: 1000, Status: StatusApproved, PaymentStatus: PaymentUnpaid}
			db.receipts["b"] = &Receipt{ID: "b", Amount: 500, Status: StatusPending, PaymentStatus: PaymentUnpaid}
		})

		It("creates a payment for approved receipts", func() {
			resp := doJSON(http.MethodPost, "/api/payments", map[string]any{
				"receipt_ids": []string{"a"},
				"reference":   "check #1042",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var payment Payment
			decode(resp, &payment)
			Expect(payment.TotalAmount).To(Equal(int64(1000)))
			Expect(db.receipts["a"].PaymentStatus).To(Equal(PaymentPaid))
		})

		It("refuses receipts that are not approved", func() {
			resp := doJSON(http.MethodPost, "/api/payments", map[string]any{"receipt_ids": []string{"a", "b"}})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(db.payments).To(BeEmpty())
		})

		It("refuses an empty batch", func() {
			resp := doJSON(http.MethodPost, "/api/payments", map[string]any{"receipt_ids": []string{}})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("a payment exists", func() {
			BeforeEach(func() {
				db.payments["p1"] = &Payment{ID: "p1", ReceiptIDs: []string{"a"}, TotalAmount: 1000}
			})

			It("returns it with its receipts", func() {
				resp := do(http.MethodGet, "/api/payments/p1", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var body struct {
					Payment  Payment    `json:"payment"`
					Receipts []*Receipt `json:"receipts"`
				}
				decode(resp, &body)
				Expect(body.Payment.ID).To(Equal("p1"))
				Expect(body.Receipts).To(HaveLen(1))
			})

			It("lists it", func() {
				resp := do(http.MethodGet, "/api/payments", "", nil)
				var payments []*Payment
				decode(resp, &payments)
				Expect(payments).To(HaveLen(1))
			})
		})

		It("returns not found for unknown payments", func() {
			resp := do(http.MethodGet, "/api/payments/nope", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleSummary", func() {
		BeforeEach(func() {
			db.receipts["a"] = &Receipt{ID: "a", Property: "Maple Court", Amount: 1000, Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), Status: StatusApproved}
			db.receipts["b"] = &Receipt{ID: "b", Property: "Maple Court", Amount: 500, Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), Status: StatusPending}
		})

		It("summarizes within the range", func() {
			resp := do(http.MethodGet, "/api/summary?from=2024-01-01&to=2024-01-31", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var summary Summary
			decode(resp, &summary)
			Expect(summary.Total).To(Equal(int64(1000)))
			Expect(summary.Properties).To(HaveLen(1))
		})

		It("rejects malformed dates", func() {
			resp := do(http.MethodGet, "/api/summary?from=January", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).To(Equal("from must be YYYY-MM-DD"))
		})
	})

	Describe("authenticate", func() {
		newRequest := func(user, pass string) *http.Request {
			req, err := http.NewRequest(http.MethodGet, "/", nil)
			Expect(err).NotTo(HaveOccurred())
			if user != "" || pass != "" {
				req.SetBasicAuth(user, pass)
			}
			return req
		}

		When("no auth is configured", func() {
			It("allows every request", func() {
				Expect(server.authenticate(newRequest("", ""))).To(BeTrue())
			})
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "admin", Password: "secret"}
			})

			It("accepts valid credentials", func() {
				Expect(server.authenticate(newRequest("admin", "secret"))).To(BeTrue())
			})

			It("rejects invalid credentials", func() {
				Expect(server.authenticate(newRequest("admin", "wrong"))).To(BeFalse())
			})

			It("rejects requests without credentials", func() {
				Expect(server.authenticate(newRequest("", ""))).To(BeFalse())
			})

			It("challenges unauthenticated API requests", func() {
				resp := do(http.MethodGet, "/api/receipts", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})
		})
	})

	Describe("corsMiddleware", func() {
		It("answers preflight requests", func() {
			handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Fail("preflight should not reach the handler")
			}))
			ghttpServer.SetHandler(0, handler.ServeHTTP)

			resp := do(http.MethodOptions, "/api/receipts", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})
})
