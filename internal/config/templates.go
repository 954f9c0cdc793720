package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "node":
		return nodeTemplate, nil
	case "request":
		return requestTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const nodeTemplate = `# entity that stamps outgoing frames
[node]
name = "osd.0"

[log]
level = "info"

# decode-side allocation bounds
[codec]
max_ops = 1024
max_attrs = 4096
max_blob_len = 67108864

[frame]
max_payload_bytes = 16777216
max_extension_bytes = 4096
`

const requestTemplate = `# reply to a replicated write, as the replica would send it
tid = 42
map_epoch = 10
result = 0
ack = "ondisk|ack"
last_complete_ondisk = "10'7"
ops = ["write"]

[reqid]
name = "client.4100"
tid = 5
inc = 1

# replica sending the reply
[from]
osd = 1
shard = -1

[pg]
primary = 0
pool = 3
seed = 9
shard = -1

[object]
oid = "rbd_data.1"
hash = 4660
pool = -1

[attrs]
"_" = "hex:0102"
snapset = "head"

[trace]
trace_id = 0
span_id = 0
parent_span_id = 0
`
