package worldmap

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
)

// gridFile is the on-disk layout of a saved grid.
type gridFile struct {
	DimX, DimY, DimZ int
	Resolution       float64
	Cells            []Occupancy
}

// Serialize compresses the grid cells using gob encoding and gzip
// compression.
func (g *Grid) Serialize() ([]byte, error) {
	g.mu.RLock()
	file := gridFile{
		DimX:       g.dimX,
		DimY:       g.dimY,
		DimZ:       g.dimZ,
		Resolution: g.res,
		Cells:      make([]Occupancy, len(g.cells)),
	}
	copy(file.Cells, g.cells)
	g.mu.RUnlock()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(file); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveFile writes the grid to path.
func (g *Grid) SaveFile(path string) error {
	blob, err := g.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize map: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write map file: %w", err)
	}
	return nil
}

// LoadFile replaces the grid contents from a saved file. Dimensions and
// resolution come from the file.
func (g *Grid) LoadFile(path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read map file: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("failed to decompress map file: %w", err)
	}
	defer gz.Close()

	var file gridFile
	if err := gob.NewDecoder(gz).Decode(&file); err != nil {
		return fmt.Errorf("failed to decode map file: %w", err)
	}
	if len(file.Cells) != file.DimX*file.DimY*file.DimZ {
		return fmt.Errorf("map file cell count %d does not match dims %dx%dx%d",
			len(file.Cells), file.DimX, file.DimY, file.DimZ)
	}

	g.mu.Lock()
	g.dimX = file.DimX
	g.dimY = file.DimY
	g.dimZ = file.DimZ
	g.res = file.Resolution
	g.cells = file.Cells
	g.mu.Unlock()
	return nil
}
