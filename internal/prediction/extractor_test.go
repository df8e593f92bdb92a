package prediction_test

import (
	"net/url"

	"github.com/frahmantamala/thematic-predictions/internal/prediction"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExtractPaymentID", func() {
	extract := func(rawQuery, body string) (string, string) {
		q, err := url.ParseQuery(rawQuery)
		Expect(err).NotTo(HaveOccurred())
		return prediction.ExtractPaymentID(q, []byte(body), prediction.DefaultExtractors)
	}

	DescribeTable("source precedence",
		func(rawQuery, body, expectedID, expectedSource string) {
			id, source := extract(rawQuery, body)
			Expect(id).To(Equal(expectedID))
			Expect(source).To(Equal(expectedSource))
		},
		Entry("query data.id wins over everything", "data.id=111&id=222", `{"id":"333","data":{"id":"444"}}`, "111", "query:data.id"),
		Entry("query id before body", "id=222&topic=payment", `{"id":"333"}`, "222", "query:id"),
		Entry("body id before body data.id", "", `{"id":"333","data":{"id":"444"}}`, "333", "body:id"),
		Entry("body data.id last", "type=payment", `{"action":"payment.created","data":{"id":"444"}}`, "444", "body:data.id"),
		Entry("numeric ids keep their digits", "", `{"data":{"id":123456789012}}`, "123456789012", "body:data.id"),
		Entry("blank query values are skipped", "data.id=%20%20&id=", `{"id":"333"}`, "333", "body:id"),
	)

	It("returns nothing when no extractor matches", func() {
		id, source := extract("topic=merchant_order", `{"resource":"https://example/merchant_orders/1"}`)
		Expect(id).To(BeEmpty())
		Expect(source).To(BeEmpty())
	})

	It("ignores malformed bodies", func() {
		id, _ := extract("", `{"id":`)
		Expect(id).To(BeEmpty())
	})

	It("rejects booleans and objects as ids", func() {
		id, _ := extract("", `{"id":true,"data":{"id":{"nested":"1"}}}`)
		Expect(id).To(BeEmpty())
	})

	It("handles a nil query and empty body", func() {
		id, source := prediction.ExtractPaymentID(nil, nil, prediction.DefaultExtractors)
		Expect(id).To(BeEmpty())
		Expect(source).To(BeEmpty())
	})
})
