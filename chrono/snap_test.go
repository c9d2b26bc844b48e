package chrono_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/indexedbuffer/chrono"
)

func TestChrono(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "chrono suite")
}

var _ = Describe("SnapToMinute", func() {
	It("rounds down just below the 30s boundary", func() {
		tp := time.Date(2026, 1, 1, 0, 0, 29, 999_000_000, time.UTC)
		Expect(chrono.SnapToMinute(tp)).To(Equal(chrono.SnapToMinute(tp.Truncate(time.Minute))))
	})

	It("rounds up at exactly the 30s boundary", func() {
		base := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
		at30 := base.Add(30 * time.Second)
		Expect(chrono.SnapToMinute(at30)).To(Equal(chrono.SnapToMinute(base) + 1))
	})

	It("is idempotent", func() {
		tp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		once := chrono.SnapToMinute(tp)
		twice := chrono.SnapToMinute(chrono.FromMinutes(once))
		Expect(twice).To(Equal(once))
	})

	It("never moves the instant by more than 30s", func() {
		tp := time.Date(2026, 6, 1, 12, 34, 17, 0, time.UTC)
		snapped := chrono.FromMinutes(chrono.SnapToMinute(tp))
		delta := tp.Sub(snapped)
		if delta < 0 {
			delta = -delta
		}
		Expect(delta).To(BeNumerically("<=", 30*time.Second))
	})
})
