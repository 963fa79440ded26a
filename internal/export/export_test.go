package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

func TestCSVSink_WritesHeaderAndRow(t *testing.T) {
	root := t.TempDir()
	sink := NewCSVSink(root, nil)
	rec := entity.NewFieldRecord("part_no", "A-100", "qty", "5", "notes", "needs, quoting")

	dest := Destination{EmailIndex: 12, PartIndex: 2}
	require.NoError(t, sink.Emit(context.Background(), dest, rec))

	path := filepath.Join(root, "email_12", "part_2.csv")
	assert.Equal(t, path, sink.Path(dest))

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"part_no", "qty", "notes"}, rows[0])
	assert.Equal(t, []string{"A-100", "5", "needs, quoting"}, rows[1])
}

func TestCSVSink_RejectsEmptyRecord(t *testing.T) {
	sink := NewCSVSink(t.TempDir(), nil)
	err := sink.Emit(context.Background(), Destination{EmailIndex: 1, PartIndex: 1}, entity.NewFieldRecord())
	require.Error(t, err)
}

func TestWorkbookSink_AppendsRowPerPart(t *testing.T) {
	root := t.TempDir()
	sink := NewWorkbookSink(root, "", nil)
	ctx := context.Background()

	require.NoError(t, sink.Emit(ctx, Destination{EmailIndex: 3, PartIndex: 1}, entity.NewFieldRecord("part_no", "A", "qty", "5")))
	require.NoError(t, sink.Emit(ctx, Destination{EmailIndex: 3, PartIndex: 2}, entity.NewFieldRecord("qty", "1", "vendor_name", "Acme")))

	f, err := excelize.OpenFile(filepath.Join(root, "email_3", "parts.xlsx"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(partsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"part", "vendor_name", "part_no", "cond", "qty"}, rows[0][:5])
	assert.Equal(t, []string{"1", "", "A", "", "5"}, rows[1][:5])
	assert.Equal(t, []string{"2", "Acme", "", "", "1"}, rows[2][:5])
}

type recordingSink struct {
	calls int
	err   error
}

func (r *recordingSink) Emit(context.Context, Destination, entity.FieldRecord) error {
	r.calls++
	return r.err
}

func TestMultiSink_StopsAtFirstError(t *testing.T) {
	boom := errors.New("disk full")
	a, b, c := &recordingSink{}, &recordingSink{err: boom}, &recordingSink{}
	err := MultiSink{a, nil, b, c}.Emit(context.Background(), Destination{}, entity.NewFieldRecord("qty", "1"))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, c.calls)
}

func TestDestination(t *testing.T) {
	d := Destination{EmailIndex: 4, PartIndex: 9}
	assert.Equal(t, "email_4/part_9", d.String())
	assert.Equal(t, filepath.Join("out", "email_4"), d.Dir("out"))
}
