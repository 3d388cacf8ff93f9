// Package output writes the gathered solution and the run summary to disk.
package output

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/notargets/FEMBench/mesh"
	"gopkg.in/yaml.v3"
)

// Field is a nodal solution in mesh vertex order, Components values per vertex
type Field struct {
	Name       string
	Components int
	Values     []float64
}

// FromGlobal reorders a vector gathered in global dof order (global node
// major, component minor) into mesh vertex order.
func FromGlobal(name string, global []float64, globalToVertex []int, components int) (*Field, error) {
	if components < 1 {
		return nil, fmt.Errorf("invalid component count %d", components)
	}
	if len(global) != len(globalToVertex)*components {
		return nil, fmt.Errorf("vector has %d entries, expected %d nodes x %d components",
			len(global), len(globalToVertex), components)
	}
	f := &Field{Name: name, Components: components, Values: make([]float64, len(global))}
	for g, v := range globalToVertex {
		copy(f.Values[v*components:(v+1)*components], global[g*components:(g+1)*components])
	}
	return f, nil
}

// SolutionPath returns the XDMF file name used for a run with the given
// worker count
func SolutionPath(dir string, workers int) string {
	return filepath.Join(dir, fmt.Sprintf("solution-%d.xdmf", workers))
}

// SummaryPath returns the YAML summary file name for the worker count
func SummaryPath(dir string, workers int) string {
	return filepath.Join(dir, fmt.Sprintf("summary-%d.yaml", workers))
}

type xdmfFile struct {
	XMLName xml.Name   `xml:"Xdmf"`
	Version string     `xml:"Version,attr"`
	Domain  xdmfDomain `xml:"Domain"`
}

type xdmfDomain struct {
	Grid xdmfGrid `xml:"Grid"`
}

type xdmfGrid struct {
	Name      string        `xml:"Name,attr"`
	GridType  string        `xml:"GridType,attr"`
	Topology  xdmfTopology  `xml:"Topology"`
	Geometry  xdmfGeometry  `xml:"Geometry"`
	Attribute xdmfAttribute `xml:"Attribute"`
}

type xdmfTopology struct {
	TopologyType     string       `xml:"TopologyType,attr"`
	NumberOfElements int          `xml:"NumberOfElements,attr"`
	Data             xdmfDataItem `xml:"DataItem"`
}

type xdmfGeometry struct {
	GeometryType string       `xml:"GeometryType,attr"`
	Data         xdmfDataItem `xml:"DataItem"`
}

type xdmfAttribute struct {
	Name          string       `xml:"Name,attr"`
	AttributeType string       `xml:"AttributeType,attr"`
	Center        string       `xml:"Center,attr"`
	Data          xdmfDataItem `xml:"DataItem"`
}

type xdmfDataItem struct {
	Dimensions string `xml:"Dimensions,attr"`
	NumberType string `xml:"NumberType,attr"`
	Precision  int    `xml:"Precision,attr,omitempty"`
	Format     string `xml:"Format,attr"`
	Body       string `xml:",chardata"`
}

// WriteXDMF writes the mesh and the field as a single XDMF file with inline
// XML data
func WriteXDMF(path string, m *mesh.Mesh, f *Field) error {
	if len(f.Values) != m.NumVertices()*f.Components {
		return fmt.Errorf("field %q has %d values, mesh has %d vertices", f.Name, len(f.Values), m.NumVertices())
	}
	attrType := "Scalar"
	if f.Components == 3 {
		attrType = "Vector"
	}

	var topo, geom strings.Builder
	for _, cell := range m.EToV {
		writeRow(&topo, cell[:], strconv.Itoa)
	}
	for _, p := range m.Vertices {
		writeRow(&geom, p[:], formatFloat)
	}
	var vals strings.Builder
	for v := 0; v < m.NumVertices(); v++ {
		writeRow(&vals, f.Values[v*f.Components:(v+1)*f.Components], formatFloat)
	}

	doc := xdmfFile{
		Version: "3.0",
		Domain: xdmfDomain{Grid: xdmfGrid{
			Name:     "mesh",
			GridType: "Uniform",
			Topology: xdmfTopology{
				TopologyType:     "Tetrahedron",
				NumberOfElements: m.NumElements(),
				Data: xdmfDataItem{
					Dimensions: fmt.Sprintf("%d 4", m.NumElements()),
					NumberType: "Int",
					Format:     "XML",
					Body:       topo.String(),
				},
			},
			Geometry: xdmfGeometry{
				GeometryType: "XYZ",
				Data: xdmfDataItem{
					Dimensions: fmt.Sprintf("%d 3", m.NumVertices()),
					NumberType: "Float",
					Precision:  8,
					Format:     "XML",
					Body:       geom.String(),
				},
			},
			Attribute: xdmfAttribute{
				Name:          f.Name,
				AttributeType: attrType,
				Center:        "Node",
				Data: xdmfDataItem{
					Dimensions: fmt.Sprintf("%d %d", m.NumVertices(), f.Components),
					NumberType: "Float",
					Precision:  8,
					Format:     "XML",
					Body:       vals.String(),
				},
			},
		}},
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode xdmf: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	out := append([]byte(xml.Header), data...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func formatFloat(x float64) string { return strconv.FormatFloat(x, 'g', 17, 64) }

func writeRow[T any](sb *strings.Builder, row []T, format func(T) string) {
	sb.WriteString("\n")
	for i, x := range row {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(format(x))
	}
}

// Summary is the machine-readable record of one benchmark run
type Summary struct {
	RunID          string             `yaml:"run_id"`
	Problem        string             `yaml:"problem"`
	Scaling        string             `yaml:"scaling"`
	Workers        int                `yaml:"workers"`
	NumCells       int                `yaml:"num_cells"`
	NumDofs        int                `yaml:"num_dofs"`
	DofsPerWorker  int                `yaml:"dofs_per_worker"`
	Preconditioner string             `yaml:"preconditioner"`
	Iterations     int                `yaml:"iterations"`
	ResidualNorm   float64            `yaml:"residual_norm"`
	SolutionNorm   float64            `yaml:"solution_norm"`
	IsNullspace    *bool              `yaml:"is_nullspace,omitempty"` // nil when no check ran
	Timings        map[string]float64 `yaml:"timings"`
}

// WriteSummary writes s as YAML
func WriteSummary(path string, s *Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadSummary loads a summary written by WriteSummary
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}
	return &s, nil
}
