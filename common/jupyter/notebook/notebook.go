package notebook

import (
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var (
	ErrInvalidNotebook = errors.New("invalid notebook document")
)

// Notebook is the subset of the nbformat v4 document model that kernel management relies on.
// Fields it does not know about are preserved only as far as the cells go.
type Notebook struct {
	Cells         []*Cell  `json:"cells"`
	Metadata      Metadata `json:"metadata"`
	NbFormat      int      `json:"nbformat"`
	NbFormatMinor int      `json:"nbformat_minor"`
}

type Metadata struct {
	KernelSpec   *KernelSpec   `json:"kernelspec,omitempty"`
	LanguageInfo *LanguageInfo `json:"language_info,omitempty"`
}

// KernelSpec is the "metadata.kernelspec" entry of a notebook.
type KernelSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Language    string `json:"language,omitempty"`
}

// LanguageInfo is the "metadata.language_info" entry of a notebook.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

type Cell struct {
	CellType       string                 `json:"cell_type"`
	ID             string                 `json:"id,omitempty"`
	Source         MultilineString        `json:"source"`
	Metadata       map[string]interface{} `json:"metadata"`
	ExecutionCount *int                   `json:"execution_count,omitempty"`
	Outputs        []json.RawMessage      `json:"outputs,omitempty"`
}

// MultilineString is a string that nbformat may store either whole or split into lines.
type MultilineString string

func (s *MultilineString) UnmarshalJSON(data []byte) error {
	var whole string
	if err := json.Unmarshal(data, &whole); err == nil {
		*s = MultilineString(whole)
		return nil
	}

	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return errors.Wrap(ErrInvalidNotebook, "cell source is neither a string nor a list of strings")
	}
	*s = MultilineString(strings.Join(lines, ""))
	return nil
}

func (s MultilineString) String() string {
	return string(s)
}

// KernelName returns the name of the kernel the notebook asks for: the kernelspec name if
// present, else the language name. Empty names count as absent. It returns the empty string
// if the notebook names neither.
func (nb *Notebook) KernelName() string {
	if nb.Metadata.KernelSpec != nil && nb.Metadata.KernelSpec.Name != "" {
		return nb.Metadata.KernelSpec.Name
	}
	if nb.Metadata.LanguageInfo != nil && nb.Metadata.LanguageInfo.Name != "" {
		return nb.Metadata.LanguageInfo.Name
	}
	return ""
}

// Parse decodes a notebook document.
func Parse(data []byte) (*Notebook, error) {
	nb := &Notebook{}
	if err := json.Unmarshal(data, nb); err != nil {
		return nil, errors.Wrapf(ErrInvalidNotebook, "%v", err)
	}
	return nb, nil
}

// Load reads and decodes the notebook at path.
func Load(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read notebook \"%s\"", path)
	}

	nb, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load notebook \"%s\"", path)
	}
	return nb, nil
}
