package transcoder

import "os"

// statSize returns the on-disk size of path, used by PredictSize
// implementations that estimate output size from input size.
func statSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// tagFields carries the handful of ID3v1 fields derivable without a full
// metadata parser (spec treats tag content as opaque to the core; a tag
// only has to exist so the splice path is exercised).
type tagFields struct {
	Title string
}

func tagFieldsFromPath(sourcePath string) tagFields {
	return tagFields{Title: baseNameNoExt(sourcePath)}
}

func baseNameNoExt(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	name := path[i+1:]
	for j := len(name) - 1; j >= 0; j-- {
		if name[j] == '.' {
			return name[:j]
		}
	}
	return name
}
