package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/sidneyarfe/divideai/internal/bill"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		ghttpServer *ghttp.Server
	)

	// do sends one request through the server under test
	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)
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

	doJSON := func(method, path string, payload any) *http.Response {
		var buf bytes.Buffer
		Expect(json.NewEncoder(&buf).Encode(payload)).To(Succeed())
		return do(method, path, &buf, "application/json")
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	upload := func(filename string, data []byte) (*bytes.Buffer, string) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())
		return &buf, writer.FormDataContentType()
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		service = NewServiceWithDeps(db, scanner, storage, &mockIDGenerator{id: "sess-1"}, &defaultTimeSource{})
		server = NewServerWithMux(service, BasicAuth{}, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleUploadReceipt", func() {
		When("upload succeeds", func() {
			var resp *http.Response

			BeforeEach(func() {
				body, ct := upload("conta.jpg", []byte("photo"))
				resp = do(http.MethodPost, "/api/bills", body, ct)
			})

			It("should return status Created", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})

			It("should return the new session", func() {
				var sess Session
				decode(resp, &sess)
				Expect(sess.ID).To(Equal("sess-1"))
				Expect(sess.Step).To(Equal(StepVerify))
				Expect(sess.Bill.Items).To(HaveLen(2))
			})

			It("should set Content-Type to application/json", func() {
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				var buf bytes.Buffer
				writer := multipart.NewWriter(&buf)
				Expect(writer.WriteField("note", "x")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp := do(http.MethodPost, "/api/bills", &buf, writer.FormDataContentType())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the body is not a multipart form", func() {
			It("should return status Bad Request", func() {
				resp := do(http.MethodPost, "/api/bills", strings.NewReader("nope"), "text/plain")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the scan fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("unreadable receipt")
			})

			It("should return the error in JSON", func() {
				body, ct := upload("conta.jpg", []byte("photo"))
				resp := do(http.MethodPost, "/api/bills", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var payload map[string]string
				decode(resp, &payload)
				Expect(payload["error"]).To(ContainSubstring("unreadable receipt"))
			})
		})
	})

	Describe("handleUploadReceipt storage failures", func() {
		When("the photo can't be stored", func() {
			BeforeEach(func() {
				storage.saveErr = errors.New("disk full")
			})

			It("should return status Internal Server Error", func() {
				body, ct := upload("conta.jpg", []byte("photo"))
				resp := do(http.MethodPost, "/api/bills", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		When("the session can't be saved", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("db error")
			})

			It("should return status Internal Server Error", func() {
				body, ct := upload("conta.jpg", []byte("photo"))
				resp := do(http.MethodPost, "/api/bills", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var payload map[string]string
				decode(resp, &payload)
				Expect(payload["error"]).To(Equal("Internal server error"))
			})
		})
	})

	Describe("handleStartManual", func() {
		It("should create an empty bill", func() {
			resp := do(http.MethodPost, "/api/bills/manual", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var sess Session
			decode(resp, &sess)
			Expect(sess.Bill.Establishment).To(Equal(bill.DefaultEstablishment))
			Expect(sess.Bill.Items).To(BeEmpty())
		})
	})

	Describe("handleGetSession", func() {
		When("the bill exists", func() {
			BeforeEach(func() {
				_, err := service.StartManual()
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return it", func() {
				resp := do(http.MethodGet, "/api/bills/sess-1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var sess Session
				decode(resp, &sess)
				Expect(sess.ID).To(Equal("sess-1"))
			})
		})

		When("the bill does not exist", func() {
			It("should return status Not Found", func() {
				resp := do(http.MethodGet, "/api/bills/missing", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.getErr = errors.New("db error")
			})

			It("should return status Internal Server Error", func() {
				resp := do(http.MethodGet, "/api/bills/sess-1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleReset", func() {
		It("should delete the bill", func() {
			_, err := service.StartManual()
			Expect(err).NotTo(HaveOccurred())

			resp := do(http.MethodDelete, "/api/bills/sess-1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.sessions).To(BeEmpty())
		})
	})

	Describe("handleGetImage", func() {
		When("the bill was scanned", func() {
			BeforeEach(func() {
				_, err := service.ProcessReceipt("conta.png", []byte("png bytes"), "image/png")
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the photo", func() {
				resp := do(http.MethodGet, "/api/bills/sess-1/image", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("png bytes"))
			})
		})

		When("the bill was typed by hand", func() {
			BeforeEach(func() {
				_, err := service.StartManual()
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return status Not Found", func() {
				resp := do(http.MethodGet, "/api/bills/sess-1/image", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("verify step", func() {
		BeforeEach(func() {
			_, err := service.ProcessReceipt("conta.jpg", []byte("photo"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should add a cover charge item", func() {
			resp := doJSON(http.MethodPost, "/api/bills/sess-1/items", map[string]bool{"fee_like": true})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var payload struct {
				Item bill.Item `json:"item"`
			}
			decode(resp, &payload)
			Expect(payload.Item.Name).To(Equal(bill.FeeLikeItemName))
		})

		It("should add a plain item with an empty body", func() {
			resp := do(http.MethodPost, "/api/bills/sess-1/items", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(db.sessions["sess-1"].Bill.Items).To(HaveLen(3))
		})

		It("should update an item", func() {
			itemID := db.sessions["sess-1"].Bill.Items[0].ID
			resp := doJSON(http.MethodPatch, "/api/bills/sess-1/items/"+itemID, map[string]string{
				"field": "name",
				"value": "Pizza grande",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.sessions["sess-1"].Bill.Items[0].Name).To(Equal("Pizza grande"))
		})

		It("rejects an unknown field", func() {
			itemID := db.sessions["sess-1"].Bill.Items[0].ID
			resp := doJSON(http.MethodPatch, "/api/bills/sess-1/items/"+itemID, map[string]string{
				"field": "color",
				"value": "red",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed body", func() {
			itemID := db.sessions["sess-1"].Bill.Items[0].ID
			resp := do(http.MethodPatch, "/api/bills/sess-1/items/"+itemID, strings.NewReader("{"), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should remove an item", func() {
			itemID := db.sessions["sess-1"].Bill.Items[0].ID
			resp := do(http.MethodDelete, "/api/bills/sess-1/items/"+itemID, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.sessions["sess-1"].Bill.Items).To(HaveLen(1))
		})

		It("should quote a fixed fee", func() {
			resp := do(http.MethodGet, "/api/bills/sess-1/fee-quote?mode=fixed&value=5", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var quote bill.FeeQuote
			decode(resp, &quote)
			Expect(quote.Mode).To(Equal(bill.FeeModeFixed))
			Expect(quote.Percent).To(BeNumerically("~", 10.0, 1e-9))
			Expect(quote.GrandTotal).To(BeNumerically("~", 55.0, 1e-9))
		})

		It("should confirm the bill", func() {
			resp := doJSON(http.MethodPost, "/api/bills/sess-1/confirm", map[string]string{
				"establishment": "Bar do Zé",
				"fee_mode":      "percent",
				"fee_value":     "12",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var sess Session
			decode(resp, &sess)
			Expect(sess.Step).To(Equal(StepPeople))
			Expect(sess.Bill.Establishment).To(Equal("Bar do Zé"))
			Expect(sess.Bill.ServicePercent).To(Equal(12.0))
		})

		It("returns Conflict when confirming twice", func() {
			payload := map[string]string{"fee_mode": "percent", "fee_value": "10"}
			Expect(doJSON(http.MethodPost, "/api/bills/sess-1/confirm", payload).StatusCode).To(Equal(http.StatusOK))
			Expect(doJSON(http.MethodPost, "/api/bills/sess-1/confirm", payload).StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("people and assignment", func() {
		BeforeEach(func() {
			_, err := service.ProcessReceipt("conta.jpg", []byte("photo"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.ConfirmVerification("sess-1", "", bill.FeeModePercent, "10")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should add a person", func() {
			resp := doJSON(http.MethodPost, "/api/bills/sess-1/people", map[string]string{"name": "Ana"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var payload struct {
				Person bill.Person `json:"person"`
			}
			decode(resp, &payload)
			Expect(payload.Person.Name).To(Equal("Ana"))
		})

		It("rejects a blank name", func() {
			resp := doJSON(http.MethodPost, "/api/bills/sess-1/people", map[string]string{"name": " "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("refuses to remove the current user", func() {
			resp := do(http.MethodDelete, "/api/bills/sess-1/people/"+bill.CurrentUserID, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns Conflict when advancing with unassigned items", func() {
			Expect(do(http.MethodPost, "/api/bills/sess-1/advance", nil, "").StatusCode).To(Equal(http.StatusOK))
			Expect(do(http.MethodPost, "/api/bills/sess-1/advance", nil, "").StatusCode).To(Equal(http.StatusConflict))
		})

		It("rejects an assignment without ids", func() {
			resp := doJSON(http.MethodPost, "/api/bills/sess-1/assignments", map[string]string{"item_id": ""})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("every item is assigned", func() {
			BeforeEach(func() {
				Expect(do(http.MethodPost, "/api/bills/sess-1/advance", nil, "").StatusCode).To(Equal(http.StatusOK))
				for _, item := range db.sessions["sess-1"].Bill.Items {
					resp := doJSON(http.MethodPost, "/api/bills/sess-1/assignments", map[string]string{
						"item_id":   item.ID,
						"person_id": bill.CurrentUserID,
					})
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
				}
				Expect(do(http.MethodPost, "/api/bills/sess-1/advance", nil, "").StatusCode).To(Equal(http.StatusOK))
			})

			It("should return the splits", func() {
				resp := do(http.MethodGet, "/api/bills/sess-1/splits", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var breakdown bill.Breakdown
				decode(resp, &breakdown)
				Expect(breakdown.People).To(HaveLen(1))
				Expect(breakdown.People[0].Total).To(BeNumerically("~", 55.0, 1e-9))
			})

			It("should toggle the service fee", func() {
				resp := do(http.MethodPost, "/api/bills/sess-1/people/"+bill.CurrentUserID+"/service-fee", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var sess Session
				decode(resp, &sess)
				Expect(sess.OptIns[bill.CurrentUserID]).To(BeFalse())
			})

			It("should return the summary as text", func() {
				resp := do(http.MethodGet, "/api/bills/sess-1/summary", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/plain"))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("*" + bill.CurrentUserName + "*"))
				Expect(string(body)).To(ContainSubstring("+ Taxa (10%): R$ 5.00"))
			})
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do(http.MethodOptions, "/api/bills/sess-1/items/x", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})

	Describe("authenticate", func() {
		var req *http.Request

		BeforeEach(func() {
			var err error
			req, err = http.NewRequest(http.MethodGet, "/api/bills/x", nil)
			Expect(err).NotTo(HaveOccurred())
		})

		When("no auth is configured", func() {
			It("should return true", func() {
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				server = NewServerWithMux(service, BasicAuth{Username: "user", Password: "pass"}, http.NewServeMux())
			})

			It("should accept valid credentials", func() {
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
				Expect(server.authenticate(req)).To(BeTrue())
			})

			It("should reject invalid credentials", func() {
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong")))
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("should reject a missing header", func() {
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("should return Unauthorized with a challenge", func() {
				resp := do(http.MethodGet, "/api/bills/sess-1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})
		})
	})
})

var _ = Describe("writeJSON", func() {
	It("should write the status and body", func() {
		rec := httptest.NewRecorder()
		writeJSON(rec, http.StatusCreated, map[string]string{"name": "Ana"})

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(rec.Body.String()).To(MatchJSON(`{"name":"Ana"}`))
	})

	When("the value can't be encoded", func() {
		var rec *httptest.ResponseRecorder

		BeforeEach(func() {
			rec = httptest.NewRecorder()
			writeJSON(rec, http.StatusOK, map[string]float64{"fee": math.Inf(1)})
		})

		It("should return status Internal Server Error", func() {
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})

		It("should still return a JSON error", func() {
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"Internal server error"}`))
		})
	})
})
