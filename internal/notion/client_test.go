package notion

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Client", func() {
	var (
		server *ghttp.Server
		client *Client
		cfg    Config
		ctx    context.Context
	)

	verifyHeaders := func() http.HandlerFunc {
		return ghttp.CombineHandlers(
			ghttp.VerifyHeaderKV("Authorization", "Bearer secret-token"),
			ghttp.VerifyHeaderKV("Content-Type", "application/json"),
			ghttp.VerifyHeaderKV("Notion-Version", DefaultNotionVersion),
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		server = ghttp.NewServer()
		cfg = Config{
			BaseURL:    server.URL(),
			Token:      "secret-token",
			DatabaseID: "db-1",
		}
	})

	JustBeforeEach(func() {
		client = NewClientWithHTTP(cfg, server.HTTPTestServer.Client())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("FetchSchema", func() {
		var (
			meta *DatabaseMetadata
			err  error
		)

		JustBeforeEach(func() {
			meta, err = client.FetchSchema(ctx)
		})

		When("the API responds with a database", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v1/databases/db-1"),
					verifyHeaders(),
					ghttp.RespondWith(http.StatusOK, `{"id":"db-1","title":[{"plain_text":"Receipts"}],
						"properties":{"Store":{"multi_select":{"options":[{"id":"1","name":"Walmart","color":"blue"}]}}}}`),
				))
			})

			It("should return the parsed metadata", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(meta.ID).To(Equal("db-1"))
				Expect(meta.Title).To(Equal("Receipts"))
				Expect(meta.OptionNames(StoreProperty)).To(ConsistOf("Walmart"))
			})
		})

		When("the API responds with an error status", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"object":"error","message":"Could not find database"}`))
			})

			It("returns the request error", func() {
				Expect(errors.Is(err, ErrRequestFailed)).To(BeTrue())
				var reqErr *RequestError
				Expect(errors.As(err, &reqErr)).To(BeTrue())
				Expect(reqErr.StatusCode).To(Equal(http.StatusNotFound))
				Expect(meta).To(BeNil())
			})
		})

		When("the body cannot be parsed", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `not json`))
			})

			It("returns the invalid response error", func() {
				Expect(errors.Is(err, ErrInvalidResponse)).To(BeTrue())
			})
		})

		When("no database ID is configured", func() {
			BeforeEach(func() {
				cfg.DatabaseID = ""
			})

			It("fails without calling the API", func() {
				Expect(err).To(MatchError(ErrDatabaseIDMissing))
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})

	Describe("ListRecords", func() {
		var (
			records []Record
			err     error
		)

		JustBeforeEach(func() {
			records, err = client.ListRecords(ctx)
		})

		When("the API returns results", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/v1/databases/db-1/query"),
					verifyHeaders(),
					ghttp.VerifyJSON(`{"filter":{"and":[{"property":"Validity","checkbox":{"equals":false}}]}}`),
					ghttp.RespondWith(http.StatusOK, `{"results":[
						{"id":"p1","properties":{"Price":{"number":500},"Store":{"multi_select":[{"name":"Target"}]}}}
					],"has_more":false,"next_cursor":null}`),
				))
			})

			It("should return the records", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].ID).To(Equal("p1"))
				Expect(records[0].Price).To(Equal(500))
				Expect(records[0].Store).To(Equal("Target"))
			})
		})

		When("the results span several pages", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(
						ghttp.VerifyJSON(`{"filter":{"and":[{"property":"Validity","checkbox":{"equals":false}}]}}`),
						ghttp.RespondWith(http.StatusOK, `{"results":[{"id":"p1"}],"has_more":true,"next_cursor":"c2"}`),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyJSON(`{"filter":{"and":[{"property":"Validity","checkbox":{"equals":false}}]},"start_cursor":"c2"}`),
						ghttp.RespondWith(http.StatusOK, `{"results":[{"id":"p2"}],"has_more":false}`),
					),
				)
			})

			It("should follow the cursor", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
				Expect(records[1].ID).To(Equal("p2"))
				Expect(server.ReceivedRequests()).To(HaveLen(2))
			})
		})

		When("the cursors cycle", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.RespondWith(http.StatusOK, `{"results":[{"id":"p1"}],"has_more":true,"next_cursor":"c2"}`),
					ghttp.CombineHandlers(
						ghttp.VerifyJSON(`{"filter":{"and":[{"property":"Validity","checkbox":{"equals":false}}]},"start_cursor":"c2"}`),
						ghttp.RespondWith(http.StatusOK, `{"results":[{"id":"p2"}],"has_more":true,"next_cursor":"c3"}`),
					),
					ghttp.CombineHandlers(
						ghttp.VerifyJSON(`{"filter":{"and":[{"property":"Validity","checkbox":{"equals":false}}]},"start_cursor":"c3"}`),
						ghttp.RespondWith(http.StatusOK, `{"results":[{"id":"p3"}],"has_more":true,"next_cursor":"c2"}`),
					),
				)
			})

			It("should stop at the first cursor it has already followed", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(3))
				Expect(server.ReceivedRequests()).To(HaveLen(3))
			})
		})

		When("the API returns an error with a message", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"object":"error","message":"X"}`))
			})

			It("returns the message", func() {
				var reqErr *RequestError
				Expect(errors.As(err, &reqErr)).To(BeTrue())
				Expect(reqErr.Message).To(Equal("X"))
				Expect(errors.Is(err, ErrRequestFailed)).To(BeTrue())
				Expect(records).To(BeNil())
			})
		})

		When("the API returns an error with an unparsable body", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `<html>bad gateway</html>`))
			})

			It("falls back to the generic message", func() {
				var reqErr *RequestError
				Expect(errors.As(err, &reqErr)).To(BeTrue())
				Expect(reqErr.Message).To(Equal(GenericErrorMessage))
			})
		})

		When("the API returns an error without a message", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, `{"object":"error"}`))
			})

			It("falls back to the generic message", func() {
				var reqErr *RequestError
				Expect(errors.As(err, &reqErr)).To(BeTrue())
				Expect(reqErr.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(reqErr.Message).To(Equal(GenericErrorMessage))
			})
		})

		When("the success body cannot be parsed", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{`))
			})

			It("returns the invalid response error", func() {
				Expect(errors.Is(err, ErrInvalidResponse)).To(BeTrue())
			})
		})

		When("the server is unreachable", func() {
			BeforeEach(func() {
				cfg.BaseURL = "http://127.0.0.1:1"
			})

			It("returns the invalid response error", func() {
				Expect(errors.Is(err, ErrInvalidResponse)).To(BeTrue())
			})
		})
	})

	Describe("CreateRecord", func() {
		var (
			rec Record
			err error
		)

		BeforeEach(func() {
			rec = NewRecord("receipt-1", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
			rec.ImageURL = "https://example.com/images/r.jpg"
		})

		JustBeforeEach(func() {
			err = client.CreateRecord(ctx, rec)
		})

		When("the API accepts the page", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/v1/pages"),
					verifyHeaders(),
					ghttp.VerifyJSON(`{
						"parent":{"database_id":"db-1"},
						"properties":{
							"Id":{"title":[{"text":{"content":"receipt-1"}}]},
							"Store":{"multi_select":[{"name":"No Store Specified"}]},
							"Purchase Date":{"date":{"start":"2024-05-02"}},
							"Category":{"multi_select":[{"name":"Not categorized"}]},
							"Price":{"number":0},
							"Image":{"url":"https://example.com/images/r.jpg"}
						}
					}`),
					ghttp.RespondWith(http.StatusOK, `garbage that is never read`),
				))
			})

			It("should succeed without inspecting the body", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("the API rejects the page", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadRequest, `{"message":"Image is not a property that exists."}`))
			})

			It("returns the request error", func() {
				Expect(errors.Is(err, ErrRequestFailed)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("Image is not a property that exists."))
			})
		})

		When("the record has no ID", func() {
			BeforeEach(func() {
				rec.ID = ""
			})

			It("fails without calling the API", func() {
				Expect(err).To(MatchError(ErrRecordIDMissing))
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})
})
