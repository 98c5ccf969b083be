package session

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewLocalStorage", func() {
		It("should create a missing directory", func() {
			dir := filepath.Join(tmpDir, "nested", "photos")
			_, err := NewLocalStorage(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(dir).To(BeADirectory())
		})
	})

	Describe("Save", func() {
		var (
			filename string
			name     string
			err      error
		)

		BeforeEach(func() {
			filename = "sess-1_conta.jpg"
		})

		JustBeforeEach(func() {
			name, err = storage.Save(filename, []byte("photo"))
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored name", func() {
				Expect(name).To(Equal("sess-1_conta.jpg"))
			})

			It("should write the file to disk", func() {
				Expect(filepath.Join(tmpDir, "sess-1_conta.jpg")).To(BeAnExistingFile())
			})
		})

		When("the name tries to leave the directory", func() {
			BeforeEach(func() {
				filename = "../../escape.jpg"
			})

			It("should keep the file inside the directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(name).To(Equal("escape.jpg"))
				Expect(filepath.Join(tmpDir, "escape.jpg")).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(tmpDir, "conta.png"), []byte("png"), 0644)).To(Succeed())
			})

			It("should return the contents", func() {
				data, err := storage.Get("conta.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("png"))
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(MatchError(os.ErrNotExist))
			})
		})
	})

	Describe("Delete", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("conta.jpg", []byte("photo"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove it", func() {
				Expect(storage.Delete("conta.jpg")).To(Succeed())
				Expect(filepath.Join(tmpDir, "conta.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				Expect(storage.Delete("missing.jpg")).To(MatchError(os.ErrNotExist))
			})
		})
	})
})
