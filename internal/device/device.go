package device

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"
)

// describes entry in csv device file
type Device struct {
	IP       string `csv:"ip"`
	Username string `csv:"username"`
	Password string `csv:"password"`
	Secret   string `csv:"secret"`
	SSH      string `csv:"ssh"`
}

// Transport is a connection protocol used to reach a device
type Transport string

const (
	SSH    Transport = "ssh"
	Telnet Transport = "telnet"
)

// Transport returns SSH only for the literal "TRUE", anything else means telnet
func (d *Device) Transport() Transport {
	if d.SSH == "TRUE" {
		return SSH
	}
	return Telnet
}

// Header lists csv columns every devices file must carry
var Header = []string{"ip", "username", "password", "secret", "ssh"}

// UsageFormat is shown to the user whenever the devices file can't be used
const UsageFormat = `ip,username,password,secret,ssh
10.10.10.10,admin,cisco,cisco_secret,TRUE
10.10.10.11,admin,cisco,cisco_secret,FALSE`

var ErrInvalidHeader = errors.New("invalid header in CSV file")

// Load reads devices file from fs and decodes it, see Parse
func Load(fs afero.Fs, path string) ([]*Device, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("cannot read devices file %q because of: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes csv data into devices, keeping file order. Header columns are
// matched by name; a missing column or any malformed row fails the whole load.
func Parse(data []byte) ([]*Device, error) {
	header, err := gocsv.DefaultCSVReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v, expected format:\n%s", ErrInvalidHeader, err, UsageFormat)
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s, expected format:\n%s",
			ErrInvalidHeader, strings.Join(missing, ","), UsageFormat)
	}

	devices := []*Device{}
	if err := gocsv.UnmarshalBytes(data, &devices); err != nil {
		return nil, fmt.Errorf("cannot unmarshal CSV because of: %w", err)
	}
	return devices, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, h := range Header {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	return missing
}
