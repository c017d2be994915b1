package buildsys

import (
	"encoding/gob"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

func init() {
	gob.Register(TaskList{})
	gob.Register(Task{})
	gob.Register(ShellBody{})
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
}

type cacheHeader struct {
	Version     string
	ScriptMtime time.Time
	Options     map[string]string
}

// WriteCache stores the evaluated flyfile next to the script so following runs can skip the evaluation
func WriteCache(file, script string, options map[string]string, flyfile *Flyfile) error {
	info, err := os.Stat(script)
	if err != nil {
		return FilesystemError(err, "failed to stat %s", script)
	}

	handle, err := os.Create(file)
	if err != nil {
		return FilesystemError(err, "failed to create %s", file)
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(cacheHeader{
		Version:     Version,
		ScriptMtime: info.ModTime(),
		Options:     options,
	})
	if err != nil {
		return eris.Wrap(err, "failed to encode cache header")
	}

	return eris.Wrap(encoder.Encode(flyfile), "failed to encode flyfile")
}

// ReadCache loads a cache written by WriteCache. It returns nil (and no error) if the cache is missing or
// was built from a different script version or different options.
func ReadCache(file, script string, options map[string]string) (*Flyfile, error) {
	handle, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, FilesystemError(err, "failed to open %s", file)
	}
	defer handle.Close()

	info, err := os.Stat(script)
	if err != nil {
		return nil, FilesystemError(err, "failed to stat %s", script)
	}

	decoder := gob.NewDecoder(handle)

	var header cacheHeader
	err = decoder.Decode(&header)
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode cache header")
	}

	if header.Version != Version || !header.ScriptMtime.Equal(info.ModTime()) || !sameOptions(header.Options, options) {
		return nil, nil
	}

	result := new(Flyfile)
	err = decoder.Decode(result)
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode flyfile")
	}

	return result, nil
}

func sameOptions(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for k, v := range a {
		if other, ok := b[k]; !ok || other != v {
			return false
		}
	}
	return true
}
