package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilFuncReportIsNoop(t *testing.T) {
	var fn Func
	assert.NotPanics(t, func() { fn.Report(50, "half") })
	assert.Nil(t, fn.Scale(0, 100, 0))
}

func TestScaleMapsIntoRange(t *testing.T) {
	var rec Recorder
	scaled := rec.Func().Scale(25, 90, 90)

	scaled(0, "start")
	scaled(50, "half")
	scaled(100, "done")
	scaled(Error, "boom")

	assert.Equal(t, []float64{25, 57.5, 90, -1}, rec.Percents())
}

func TestScaleCapsAtLimit(t *testing.T) {
	var rec Recorder
	scaled := rec.Func().Scale(20, 100, 90)
	scaled(100, "done")

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, 90.0, last.Percent)
}

func TestTeeSkipsNil(t *testing.T) {
	var a, b Recorder
	fn := Tee(a.Func(), nil, b.Func())
	fn(10, "ten")

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.Nil(t, Tee(nil, nil))
}
