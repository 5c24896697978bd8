package storage_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fluxcode/transcoder/pkg/storage"
)

var _ = Describe("LocalBackend", func() {
	var (
		backend *storage.LocalBackend
		root    string
		ctx     context.Context
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		backend = storage.NewLocalBackend(root)
		ctx = context.Background()
	})

	It("round-trips a file through upload then download", func() {
		srcDir := GinkgoT().TempDir()
		srcPath := filepath.Join(srcDir, "input.mp4")
		Expect(os.WriteFile(srcPath, []byte("video bytes"), 0o644)).To(Succeed())

		Expect(backend.Upload(ctx, srcPath, "jobs/abc/input.mp4")).To(Succeed())
		Expect(filepath.Join(root, "jobs/abc/input.mp4")).To(BeAnExistingFile())

		destPath := filepath.Join(srcDir, "downloaded.mp4")
		Expect(backend.Download(ctx, "jobs/abc/input.mp4", destPath)).To(Succeed())

		data, err := os.ReadFile(destPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("video bytes"))
	})

	It("confines a traversal attempt to the storage root instead of escaping it", func() {
		err := backend.Download(ctx, "../../../../etc/passwd", filepath.Join(root, "out"))
		Expect(err).To(HaveOccurred(), "the resolved path lands at <root>/etc/passwd, which doesn't exist, rather than the real /etc/passwd")
	})

	It("succeeds its probe round-trip", func() {
		Expect(backend.Probe(ctx)).To(Succeed())
	})

	It("reports its scheme as file", func() {
		Expect(backend.Scheme()).To(Equal("file"))
	})
})
