package model

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"beamfl/src/utils"
)

// ArtifactFormat identifies the serialized model layout.
const ArtifactFormat = "beamfl/global-model/v1"

// Artifact is the persisted Global Model: architecture plus parameters.
type Artifact struct {
	Format       string       `json:"format"`
	CreatedAt    time.Time    `json:"created_at"`
	Rounds       int          `json:"rounds"`
	Architecture Architecture `json:"architecture"`
	Params       Params       `json:"params"`
}

func NewArtifact(arch Architecture, params Params, rounds int) *Artifact {
	return &Artifact{
		Format:       ArtifactFormat,
		CreatedAt:    time.Now().UTC(),
		Rounds:       rounds,
		Architecture: arch,
		Params:       params,
	}
}

// WriteTo encodes the artifact as JSON.
func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	cw := &utils.CountingWriter{W: w}
	err := json.NewEncoder(cw).Encode(a)
	return cw.N, err
}

// ReadFrom decodes a JSON artifact and checks that the parameters fit the
// architecture.
func (a *Artifact) ReadFrom(r io.Reader) (int64, error) {
	cr := &utils.CountingReader{R: r}
	if err := json.NewDecoder(cr).Decode(a); err != nil {
		return cr.N, err
	}
	if a.Format != ArtifactFormat {
		return cr.N, fmt.Errorf("unknown artifact format %q", a.Format)
	}
	if err := a.Architecture.Layout().CheckLayout(a.Params); err != nil {
		return cr.N, err
	}
	return cr.N, nil
}

// Network rebuilds the predictor stored in the artifact.
func (a *Artifact) Network() (*Network, error) {
	return NewNetwork(a.Architecture, a.Params)
}

// Save serializes params to path; a .xz suffix compresses the file.
func Save(path string, arch Architecture, params Params, rounds int) error {
	return utils.Serialize(NewArtifact(arch, params, rounds), path)
}

// Load reads an artifact written by Save.
func Load(path string) (*Artifact, error) {
	a := &Artifact{}
	if err := utils.Deserialize(a, path); err != nil {
		return nil, err
	}
	return a, nil
}
