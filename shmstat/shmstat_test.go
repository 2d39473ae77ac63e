//go:build linux

package shmstat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romshark/iokring-go/shm"
)

const sampleTable = `       key      shmid perms       size  cpid  lpid nattch   uid   gid  cuid  cgid      atime      dtime      ctime        rss       swap
1768909675          3 600      37748736  4242  4242      2  1000  1000  1000  1000 1755000000          0 1755000000   37748736          0
1768780651          4 600      33554432  4242  4242      2  1000  1000  1000  1000 1755000001          0 1755000001    2097152          0
     12345          7 600           4096  9999  9999      1  1000  1000  1000  1000 1755000002          0 1755000002       4096          0
`

func TestParseFiltersByKey(t *testing.T) {
	s, err := parse([]byte(sampleTable), []shm.Key{0x696f6b6b, 0x696d736b})
	require.NoError(t, err)
	require.Len(t, s, 2)

	ctl, ok := s[0x696f6b6b] // 1768909675
	require.True(t, ok)
	assert.Equal(t, 3, ctl.ShmID)
	assert.EqualValues(t, 37748736, ctl.Size)
	assert.EqualValues(t, 2, ctl.Nattch)
	assert.EqualValues(t, 37748736, ctl.RSS)

	ing, ok := s[0x696d736b] // 1768780651
	require.True(t, ok)
	assert.EqualValues(t, 33554432, ing.Size)

	_, ok = s[12345]
	assert.False(t, ok, "unrequested keys must be filtered out")
}

func TestParseMissingSegment(t *testing.T) {
	s, err := parse([]byte(sampleTable), []shm.Key{0xdeadbeef})
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestParseMalformedRow(t *testing.T) {
	_, err := parse([]byte("header\nnot a segment row\n"), []shm.Key{1})
	assert.Error(t, err)
}

func TestPrint(t *testing.T) {
	s, err := parse([]byte(sampleTable), []shm.Key{0x696d736b})
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, Print(&b, s, map[shm.Key]string{0x696d736b: "ingress"}))

	out := b.String()
	assert.Contains(t, out, "0x696d736b (ingress):")
	assert.Contains(t, out, "attached 2")
}