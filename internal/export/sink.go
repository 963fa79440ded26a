package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/joseph-ayodele/parts-intake/internal/entity"
)

// Destination identifies where one part record lands.
type Destination struct {
	EmailIndex int
	PartIndex  int // 1-based within the email
}

// Dir is the per-email output folder under root.
func (d Destination) Dir(root string) string {
	return filepath.Join(root, "email_"+strconv.Itoa(d.EmailIndex))
}

func (d Destination) String() string {
	return fmt.Sprintf("email_%d/part_%d", d.EmailIndex, d.PartIndex)
}

// Sink persists one normalized part record.
type Sink interface {
	Emit(ctx context.Context, dest Destination, rec entity.FieldRecord) error
}

// MultiSink writes to every sink in order and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, dest Destination, rec entity.FieldRecord) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, dest, rec); err != nil {
			return err
		}
	}
	return nil
}
