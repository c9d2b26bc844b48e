package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/indexedbuffer/fs"
)

func TestFs(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "fs suite")
}

var _ = Describe("Store", func() {
	var parent string

	BeforeEach(func() {
		parent = GinkgoT().TempDir()
	})

	It("rejects an empty buffer name", func() {
		_, err := fs.New(parent, "", 1.0)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a non-positive quota", func() {
		_, err := fs.New(parent, "buf", 0)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a root equivalent to its parent", func() {
		_, err := fs.New(parent, ".", 1.0)
		Expect(err).To(HaveOccurred())
	})

	It("creates the root directory on construction", func() {
		st, err := fs.New(parent, "buf", 1.0)
		Expect(err).NotTo(HaveOccurred())
		info, statErr := os.Stat(st.GetBufferDirectory())
		Expect(statErr).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("reports full once a direct write crosses a tiny quota", func() {
		// quota just above an empty store's size (0 bytes)
		st, err := fs.New(parent, "buf", 1.0/(1<<30))
		Expect(err).NotTo(HaveOccurred())
		Expect(st.AboveQuota()).To(BeFalse())

		path := filepath.Join(st.GetBufferDirectory(), "direct")
		Expect(os.WriteFile(path, []byte("hello world"), 0o644)).To(Succeed())

		// force an immediate recompute rather than waiting out recomputeEvery
		st2, err := fs.New(parent, "buf", 1.0/(1<<30))
		Expect(err).NotTo(HaveOccurred())
		Expect(st2.AboveQuota()).To(BeTrue())
	})

	It("moves a file into the store and accounts its size", func() {
		st, err := fs.New(parent, "buf", 1.0)
		Expect(err).NotTo(HaveOccurred())

		src := filepath.Join(GinkgoT().TempDir(), "src")
		Expect(os.WriteFile(src, []byte("payload"), 0o644)).To(Succeed())

		ok, err := st.Move(src, "hash1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(st.GetExistingFilepath("hash1")).NotTo(BeEmpty())
		_, statErr := os.Stat(src)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("fails Move when the destination already exists", func() {
		st, err := fs.New(parent, "buf", 1.0)
		Expect(err).NotTo(HaveOccurred())

		dst := filepath.Join(st.GetBufferDirectory(), "taken")
		Expect(os.WriteFile(dst, []byte("x"), 0o644)).To(Succeed())

		src := filepath.Join(GinkgoT().TempDir(), "src")
		Expect(os.WriteFile(src, []byte("payload"), 0o644)).To(Succeed())

		ok, err := st.Move(src, "taken")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("deletes a file and prunes now-empty ancestor directories", func() {
		st, err := fs.New(parent, "buf", 1.0)
		Expect(err).NotTo(HaveOccurred())

		src := filepath.Join(GinkgoT().TempDir(), "src")
		Expect(os.WriteFile(src, []byte("payload"), 0o644)).To(Succeed())

		ok, err := st.Move(src, "sub/dir/hash2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		subdir := filepath.Join(st.GetBufferDirectory(), "sub")
		_, statErr := os.Stat(subdir)
		Expect(statErr).NotTo(HaveOccurred())

		deleted, err := st.Delete("sub/dir/hash2")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())

		_, statErr = os.Stat(subdir)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
		_, rootErr := os.Stat(st.GetBufferDirectory())
		Expect(rootErr).NotTo(HaveOccurred())
	})

	It("returns false deleting a missing or directory name", func() {
		st, err := fs.New(parent, "buf", 1.0)
		Expect(err).NotTo(HaveOccurred())

		ok, err := st.Delete("nope")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		Expect(os.Mkdir(filepath.Join(st.GetBufferDirectory(), "adir"), 0o755)).To(Succeed())
		ok, err = st.Delete("adir")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("GetExistingFilepath returns empty for a missing file", func() {
		st, err := fs.New(parent, "buf", 1.0)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.GetExistingFilepath("ghost")).To(Equal(""))
	})
})
