package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-tracker/internal/capture"
	"github.com/zombor/receipt-tracker/internal/notion"
	"github.com/zombor/receipt-tracker/internal/objectstore"
	"github.com/zombor/receipt-tracker/internal/receipt"
)

func spoolPNG(dir, name string) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{R: 240, G: 240, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644)).To(Succeed())
}

var _ = Describe("Integration", func() {
	var (
		tempDir      string
		spoolDir     string
		store        *objectstore.LocalStore
		ledger       *receipt.BoltLedger
		controller   *capture.Controller
		notionServer *ghttp.Server
		app          *httptest.Server
		pages        []map[string]any
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		spoolDir = filepath.Join(tempDir, "spool")
		Expect(os.MkdirAll(spoolDir, 0755)).To(Succeed())
		pages = nil

		notionServer = ghttp.NewServer()

		var handler http.Handler
		app = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w, r)
		}))

		var err error
		ledger, err = receipt.NewBoltLedger(filepath.Join(tempDir, "ledger.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = objectstore.NewLocalStore(filepath.Join(tempDir, "objects"), app.URL+"/objects")
		Expect(err).NotTo(HaveOccurred())

		controller = capture.NewController(capture.NewDirDevice(spoolDir))
		Expect(controller.Prepare(context.Background())).To(Succeed())

		client := notion.NewClientWithHTTP(notion.Config{
			BaseURL:    notionServer.URL(),
			Token:      "secret-token",
			DatabaseID: "db-1",
		}, notionServer.HTTPTestServer.Client())

		uploader := objectstore.NewUploaderWithOrphans(store, ledger)
		service := receipt.NewService(client, uploader, controller, nil, ledger)
		handler = receipt.NewServer(service, receipt.BasicAuth{}, store.Root())
	})

	AfterEach(func() {
		app.Close()
		notionServer.Close()
		controller.Close()
		ledger.Close()
	})

	recordPage := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		Expect(err).NotTo(HaveOccurred())
		var page map[string]any
		Expect(json.Unmarshal(body, &page)).To(Succeed())
		pages = append(pages, page)
	}

	storedImages := func() []string {
		entries, err := os.ReadDir(filepath.Join(store.Root(), "images"))
		if os.IsNotExist(err) {
			return nil
		}
		Expect(err).NotTo(HaveOccurred())
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names
	}

	It("should capture a receipt, upload it and create the record", func() {
		spoolPNG(spoolDir, "scan-001.png")
		notionServer.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/pages"),
			ghttp.VerifyHeaderKV("Authorization", "Bearer secret-token"),
			ghttp.VerifyHeaderKV("Notion-Version", notion.DefaultNotionVersion),
			recordPage,
			ghttp.RespondWith(http.StatusOK, `{"object":"page"}`),
		))

		resp, err := http.Post(app.URL+"/api/capture", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var created notion.Record
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.ID).NotTo(BeEmpty())
		Expect(created.Store).To(Equal(notion.DefaultStore))
		Expect(created.ImageURL).To(Equal(app.URL + "/objects/images/" + created.ID + ".jpg"))

		By("sending the record to notion")
		Expect(pages).To(HaveLen(1))
		props := pages[0]["properties"].(map[string]any)
		Expect(props).To(HaveKey("Id"))
		Expect(props["Image"]).To(Equal(map[string]any{"url": created.ImageURL}))
		Expect(pages[0]["parent"]).To(Equal(map[string]any{"database_id": "db-1"}))

		By("serving the uploaded JPEG")
		imgResp, err := http.Get(created.ImageURL)
		Expect(err).NotTo(HaveOccurred())
		defer imgResp.Body.Close()
		Expect(imgResp.StatusCode).To(Equal(http.StatusOK))
		data, err := io.ReadAll(imgResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(http.DetectContentType(data)).To(Equal("image/jpeg"))

		By("consuming the spooled file")
		Expect(filepath.Join(spoolDir, "scan-001.png")).NotTo(BeAnExistingFile())

		By("listing the session")
		listResp, err := http.Get(app.URL + "/api/receipts?cached=true")
		Expect(err).NotTo(HaveOccurred())
		defer listResp.Body.Close()
		var records []notion.Record
		Expect(json.NewDecoder(listResp.Body).Decode(&records)).To(Succeed())
		Expect(records).To(HaveLen(1))
		Expect(records[0].ID).To(Equal(created.ID))
	})

	It("should remove the uploaded image when notion rejects the record", func() {
		spoolPNG(spoolDir, "scan-002.png")
		notionServer.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/pages"),
			ghttp.RespondWith(http.StatusBadRequest, `{"object":"error","message":"X"}`),
		))

		resp, err := http.Post(app.URL+"/api/capture", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body["error"]).To(ContainSubstring("X"))

		Expect(storedImages()).To(BeEmpty())

		orphans, err := ledger.ListOrphans()
		Expect(err).NotTo(HaveOccurred())
		Expect(orphans).To(BeEmpty())
	})

	It("should list unvalidated records from notion", func() {
		notionServer.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/databases/db-1/query"),
			ghttp.VerifyJSON(`{"filter":{"and":[{"property":"Validity","checkbox":{"equals":false}}]}}`),
			ghttp.RespondWith(http.StatusOK, `{
				"object": "list",
				"results": [{
					"id": "page-1",
					"properties": {
						"Store": {"multi_select": [{"name": "Shell"}]},
						"Category": {"multi_select": [{"name": "Transport"}]},
						"Purchase Date": {"date": {"start": "2024-03-20"}},
						"Price": {"number": 4250},
						"Image": {"url": "https://example.com/a.jpg"}
					}
				}],
				"has_more": false,
				"next_cursor": null
			}`),
		))

		resp, err := http.Get(app.URL + "/api/receipts")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var records []notion.Record
		Expect(json.NewDecoder(resp.Body).Decode(&records)).To(Succeed())
		Expect(records).To(HaveLen(1))
		Expect(records[0].ID).To(Equal("page-1"))
		Expect(records[0].Store).To(Equal("Shell"))
		Expect(records[0].Category).To(Equal("Transport"))
		Expect(records[0].Price).To(Equal(4250))
		Expect(records[0].ImageURL).To(Equal("https://example.com/a.jpg"))
	})

	It("should sweep recorded orphans", func() {
		Expect(store.Put(context.Background(), "images/stale.jpg", []byte("jpeg"), "image/jpeg")).To(Succeed())
		Expect(ledger.RecordOrphan("images/stale.jpg", "create record failed")).To(Succeed())

		service := receipt.NewService(nil, objectstore.NewUploader(store), nil, nil, ledger)
		sweep, err := service.SweepOrphans(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(sweep.Deleted).To(ConsistOf("images/stale.jpg"))
		Expect(storedImages()).To(BeEmpty())

		orphans, err := ledger.ListOrphans()
		Expect(err).NotTo(HaveOccurred())
		Expect(orphans).To(BeEmpty())
	})
})
