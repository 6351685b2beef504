package disk

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"dbkernel/pkg/storage/page"
)

func TestDiskManagerReadWriteRoundTrip(t *testing.T) {
	dbFile := "test.db"
	os.Remove(dbFile)
	defer os.Remove(dbFile)

	dm, err := NewDiskManager(dbFile)
	require.NoError(t, err)
	defer dm.Close()

	pid := dm.AllocatePage()
	require.Equal(t, page.PageID(0), pid)
	require.Equal(t, page.PageID(1), dm.AllocatePage())

	p := &page.Page{}
	data := []byte("Hello Database World!")
	copy(p.Data[:], data)
	require.NoError(t, dm.WritePage(pid, p))

	p2 := &page.Page{}
	require.NoError(t, dm.ReadPage(pid, p2))
	require.Equal(t, string(data), string(p2.Data[:len(data)]))
}

func TestDiskManagerReadUnwrittenPageIsZeroed(t *testing.T) {
	dbFile := "test_unwritten.db"
	os.Remove(dbFile)
	defer os.Remove(dbFile)

	dm, err := NewDiskManager(dbFile)
	require.NoError(t, err)
	defer dm.Close()

	pid := dm.AllocatePage()
	p := &page.Page{}
	require.NoError(t, dm.ReadPage(pid, p))
	for _, b := range p.Data {
		require.Equal(t, byte(0), b)
	}
}
