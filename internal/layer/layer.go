// Package layer implements the named-layer store: tagged raster, vector,
// and kernel layers held behind a single concurrency-safe map.
package layer

import (
	"regexp"
	"sync"

	"github.com/MeKo-Tech/lad/internal/errs"
	"github.com/MeKo-Tech/lad/internal/kernel"
	"github.com/MeKo-Tech/lad/internal/raster"
)

// Kind is the tag discriminating a layer's variant.
type Kind int

const (
	KindRaster Kind = iota
	KindVector
	KindKernel
)

func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindVector:
		return "vector"
	case KindKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// Space tags the coordinate system of a VectorLayer's points.
type Space int

const (
	SpacePixel Space = iota
	SpaceWorld
)

// Point is a single 2D vector-layer vertex.
type Point struct {
	X, Y float64
}

// Layer is a tagged variant: exactly one of Raster, Points/Space, or
// Kernel is meaningful, selected by Kind.
type Layer struct {
	Name   string
	ID     int
	Kind   Kind
	Status string

	Raster *raster.Buffer // Kind == KindRaster

	Points []Point // Kind == KindVector
	Space  Space

	Kernel *kernel.Kernel // Kind == KindKernel
}

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Store is the pipeline's concurrency-safe name-to-layer map.
type Store struct {
	mu     sync.RWMutex
	byName map[string]*Layer
	nextID int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Layer)}
}

// Create allocates a new, empty layer of the given kind under name and
// returns its id.
func (s *Store) Create(name string, kind Kind) (int, error) {
	if name == "" || !nameRE.MatchString(name) {
		return 0, errs.New(errs.KindLayerInvalidName, "invalid layer name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return 0, errs.New(errs.KindLayerDuplicatedName, "layer %q already exists", name)
	}

	id := s.nextID
	s.nextID++
	s.byName[name] = &Layer{Name: name, ID: id, Kind: kind}
	return id, nil
}

// Get returns the layer stored under name.
func (s *Store) Get(name string) (*Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.byName[name]
	if !ok {
		return nil, errs.New(errs.KindLayerNotFound, "layer %q not found", name)
	}
	return l, nil
}

// GetRaster returns the layer's raster buffer, failing with
// layer_type_mismatch if the layer is not a raster.
func (s *Store) GetRaster(name string) (*raster.Buffer, error) {
	l, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if l.Kind != KindRaster {
		return nil, errs.New(errs.KindLayerTypeMismatch, "layer %q is not a raster layer", name)
	}
	return l.Raster, nil
}

// GetKernel returns the layer's kernel, failing with layer_type_mismatch
// if the layer is not a kernel.
func (s *Store) GetKernel(name string) (*kernel.Kernel, error) {
	l, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if l.Kind != KindKernel {
		return nil, errs.New(errs.KindLayerTypeMismatch, "layer %q is not a kernel layer", name)
	}
	return l.Kernel, nil
}

// Remove deletes the layer stored under name, if present.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; !ok {
		return errs.New(errs.KindLayerNotFound, "layer %q not found", name)
	}
	delete(s.byName, name)
	return nil
}

// Rename changes the name of the layer with the given id.
func (s *Store) Rename(id int, newName string) error {
	if newName == "" || !nameRE.MatchString(newName) {
		return errs.New(errs.KindLayerInvalidName, "invalid layer name %q", newName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[newName]; exists {
		return errs.New(errs.KindLayerDuplicatedName, "layer %q already exists", newName)
	}

	for name, l := range s.byName {
		if l.ID == id {
			delete(s.byName, name)
			l.Name = newName
			s.byName[newName] = l
			return nil
		}
	}
	return errs.New(errs.KindLayerNotFound, "no layer with id %d", id)
}

// ListByKind returns the names of every layer of the given kind.
func (s *Store) ListByKind(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name, l := range s.byName {
		if l.Kind == kind {
			names = append(names, name)
		}
	}
	return names
}

// EnsureRaster returns the raster layer named name, creating it (with a
// fresh empty buffer matched to like's dimensions and geo properties) if
// it does not already exist. This implements the "destination
// auto-created if absent" rule operators rely on.
func (s *Store) EnsureRaster(name string, like *raster.Buffer) (*raster.Buffer, error) {
	s.mu.Lock()
	l, ok := s.byName[name]
	if !ok {
		buf := raster.NewBuffer(like.Rows, like.Cols, like.Nodata)
		buf.CopyGeoProperties(like)
		id := s.nextID
		s.nextID++
		l = &Layer{Name: name, ID: id, Kind: KindRaster, Raster: buf}
		s.byName[name] = l
		s.mu.Unlock()
		return buf, nil
	}
	s.mu.Unlock()

	if l.Kind != KindRaster {
		return nil, errs.New(errs.KindLayerTypeMismatch, "layer %q is not a raster layer", name)
	}
	return l.Raster, nil
}

// EnsureVector returns the vector layer named name, creating an empty one
// if absent.
func (s *Store) EnsureVector(name string, space Space) (*Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byName[name]
	if !ok {
		id := s.nextID
		s.nextID++
		l = &Layer{Name: name, ID: id, Kind: KindVector, Space: space}
		s.byName[name] = l
		return l, nil
	}
	if l.Kind != KindVector {
		return nil, errs.New(errs.KindLayerTypeMismatch, "layer %q is not a vector layer", name)
	}
	return l, nil
}

// Upload deep-copies payload into the named layer's container, creating
// the layer if it does not exist. For kernels it marks rotated dirty.
func (s *Store) Upload(name string, kind Kind, payload any) error {
	s.mu.Lock()
	l, ok := s.byName[name]
	if !ok {
		id := s.nextID
		s.nextID++
		l = &Layer{Name: name, ID: id, Kind: kind}
		s.byName[name] = l
	}
	s.mu.Unlock()

	if l.Kind != kind {
		return errs.New(errs.KindLayerTypeMismatch, "layer %q is kind %s, not %s", name, l.Kind, kind)
	}

	switch kind {
	case KindRaster:
		buf, ok := payload.(*raster.Buffer)
		if !ok {
			return errs.New(errs.KindWrongArgument, "payload for raster layer %q is not a *raster.Buffer", name)
		}
		l.Raster = buf.Clone()
	case KindVector:
		pts, ok := payload.([]Point)
		if !ok {
			return errs.New(errs.KindWrongArgument, "payload for vector layer %q is not a []Point", name)
		}
		l.Points = append([]Point(nil), pts...)
	case KindKernel:
		k, ok := payload.(*kernel.Kernel)
		if !ok {
			return errs.New(errs.KindWrongArgument, "payload for kernel layer %q is not a *kernel.Kernel", name)
		}
		l.Kernel = k.Clone()
		l.Kernel.MarkDirty()
	}
	return nil
}
