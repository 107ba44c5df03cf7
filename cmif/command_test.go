package cmif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hipc-systems/hipc-core/domain"
)

func TestBuildLayoutOrdersByDescendingAlignment(t *testing.T) {
	layout, err := BuildLayout([]ArgSpec{
		{Kind: ArgInData, Size: 1, Align: 1},
		{Kind: ArgInData, Size: 8, Align: 8},
		{Kind: ArgInData, Size: 4, Align: 4},
	})
	require.NoError(t, err)

	// Largest alignment first: the 8-byte field at 0, the 4-byte field at
	// 8, the 1-byte field at 12; total rounds up to a 4-byte multiple.
	assert.Equal(t, 0, layout.InDataOffsets[1])
	assert.Equal(t, 8, layout.InDataOffsets[2])
	assert.Equal(t, 12, layout.InDataOffsets[0])
	assert.Equal(t, 16, layout.InDataSize)
}

func TestBuildLayoutCountsBuffersHandlesObjects(t *testing.T) {
	layout, err := BuildLayout([]ArgSpec{
		{Kind: ArgBuffer, Attr: domain.BufferAttr{Direction: domain.BufferIn, Mode: domain.BufferModeMapAlias}},
		{Kind: ArgInHandle},
		{Kind: ArgOutHandle},
		{Kind: ArgOutObject},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, layout.NumBuffers)
	assert.Equal(t, 1, layout.NumInHandles)
	assert.Equal(t, 1, layout.NumOutHandles)
	assert.Equal(t, 1, layout.NumOutObjects)
	assert.Equal(t, []int{0}, layout.BufferIndices)
}

func TestBuildLayoutRejectsTooManyBuffers(t *testing.T) {
	var specs []ArgSpec
	for i := 0; i < MaxBuffers+1; i++ {
		specs = append(specs, ArgSpec{Kind: ArgBuffer})
	}
	_, err := BuildLayout(specs)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindPreconditionViolation, kind)
}

func TestBuildLayoutRejectsTooManyOutHandlesAndObjectsCombined(t *testing.T) {
	var specs []ArgSpec
	for i := 0; i < 5; i++ {
		specs = append(specs, ArgSpec{Kind: ArgOutHandle})
	}
	for i := 0; i < 4; i++ {
		specs = append(specs, ArgSpec{Kind: ArgOutObject})
	}
	_, err := BuildLayout(specs)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindPreconditionViolation, kind)
}

func TestBuildLayoutRejectsTooManyArgs(t *testing.T) {
	specs := make([]ArgSpec, MaxArgs+1)
	_, err := BuildLayout(specs)
	require.Error(t, err)
	kind, _ := domain.ErrorKind(err)
	assert.Equal(t, domain.KindPreconditionViolation, kind)
}

func TestBuildLayoutSeparatesInAndOutDataAreas(t *testing.T) {
	layout, err := BuildLayout([]ArgSpec{
		{Kind: ArgInData, Size: 4, Align: 4},
		{Kind: ArgOutData, Size: 8, Align: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, layout.InDataSize)
	assert.Equal(t, 8, layout.OutDataSize)
	assert.Equal(t, 0, layout.OutDataOffsets[1])
	_, hasOutInIn := layout.InDataOffsets[1]
	assert.False(t, hasOutInIn)
}
