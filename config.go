package orcs

// config.go reads the optional experiment configuration file.  The file
// carries the core run options (files, sizes, pattern, subset methods,
// metric, runs, level, seed, node ordering); for each of those the user
// did not set explicitly on the command line, a non-zero file value is
// used.  Both YAML and JSON are accepted, selected by file extension.

import (
	"encoding/json"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// ExpCfg mirrors the driver options in serializable form.
type ExpCfg struct {
	Input        string `json:"input" yaml:"input"`
	Output       string `json:"output" yaml:"output"`
	Commsize     int    `json:"commsize" yaml:"commsize"`
	PartCommsize int    `json:"partcommsize" yaml:"partcommsize"`
	Ptrn         string `json:"ptrn" yaml:"ptrn"`
	Ptrnarg      string `json:"ptrnarg" yaml:"ptrnarg"`
	Subset       string `json:"subset" yaml:"subset"`
	PartSubset   string `json:"partsubset" yaml:"partsubset"`
	Metric       string `json:"metric" yaml:"metric"`
	NumRuns      int    `json:"numruns" yaml:"numruns"`
	PtrnLevel    int    `json:"ptrnlevel" yaml:"ptrnlevel"`
	Seed         int64  `json:"seed" yaml:"seed"`
	NodeOrder    string `json:"nodeorder" yaml:"nodeorder"`
}

// ReadExpCfg deserializes an experiment configuration.  If the dict
// argument is non-empty the file is not read and dict is parsed instead.
// The file extension chooses between YAML and JSON.
func ReadExpCfg(filename string, dict []byte) (*ExpCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	ext := path.Ext(filename)
	useYAML := ext == ".yaml" || ext == ".yml"

	example := ExpCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// WriteToFile serializes the configuration, format chosen by extension.
func (cfg *ExpCfg) WriteToFile(filename string) error {
	ext := path.Ext(filename)
	useYAML := ext == ".yaml" || ext == ".yml"

	var bytes []byte
	var merr error
	if useYAML {
		bytes, merr = yaml.Marshal(*cfg)
	} else {
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
	}
	if merr != nil {
		return merr
	}

	fd, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer fd.Close()
	_, err = fd.Write(bytes)
	return err
}
