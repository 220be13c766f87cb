package rowan

import (
	"testing"

	"github.com/jmelchner/aDB/lib/evd"
	evdtesting "github.com/jmelchner/aDB/lib/evd/testing"
)

func Test(t *testing.T) {
	evdtesting.RunFactoryTests(t, "RowanDB", func() (evd.Factory, error) {
		return New(nil)
	})
}

func Benchmark(b *testing.B) {
	evdtesting.RunFactoryBenchmarks(b, "RowanDB", func() (evd.Factory, error) {
		return New(nil)
	})
}
