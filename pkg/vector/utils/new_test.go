package vectorutils_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/vector/chroma"
	"github.com/papercomputeco/stacks/pkg/vector/inmemory"
	"github.com/papercomputeco/stacks/pkg/vector/qdrant"
	vectorutils "github.com/papercomputeco/stacks/pkg/vector/utils"
)

var _ = Describe("NewVectorDriver", func() {
	It("defaults to the in-memory driver", func() {
		d, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeAssignableToTypeOf(&inmemory.Driver{}))
	})

	It("builds a chroma driver", func() {
		d, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
			ProviderType: "chroma",
			TargetURL:    "http://localhost:8000",
			Logger:       logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeAssignableToTypeOf(&chroma.Driver{}))
	})

	It("builds a qdrant driver", func() {
		d, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
			ProviderType: "qdrant",
			TargetURL:    "localhost:6334",
			Dimensions:   8,
			Logger:       logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(BeAssignableToTypeOf(&qdrant.Driver{}))
		Expect(d.Close()).To(Succeed())
	})

	It("rejects unknown providers", func() {
		_, err := vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{ProviderType: "pinecone", Logger: logger.Nop()})
		Expect(err).To(MatchError(ContainSubstring("unsupported vector store provider")))
	})
})

var _ = DescribeTable("parseQdrantTarget",
	func(target, host string, port int, tls bool) {
		h, p, t, err := vectorutils.ParseQdrantTarget(target)
		Expect(err).NotTo(HaveOccurred())
		Expect(h).To(Equal(host))
		Expect(p).To(Equal(port))
		Expect(t).To(Equal(tls))
	},
	Entry("bare host", "qdrant", "qdrant", 6334, false),
	Entry("host and port", "qdrant:7000", "qdrant", 7000, false),
	Entry("https url", "https://cloud.qdrant.io:6334", "cloud.qdrant.io", 6334, true),
	Entry("http url without port", "http://localhost", "localhost", 6334, false),
)
