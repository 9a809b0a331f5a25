package msg

import (
	"errors"
	"strings"

	"github.com/wesm/msgextract/internal/cfb"
	"github.com/wesm/msgextract/internal/codec"
)

// Attachment methods (PR_ATTACH_METHOD).
const (
	AttachByValue     = 1
	AttachEmbeddedMsg = 5
	AttachOLE         = 6
)

// Attachment is one __attach_version1.0_# storage.
type Attachment struct {
	LongName    string
	ShortName   string
	DisplayName string
	MimeTag     string
	ContentID   string
	Method      int
	Data        []byte

	file     *cfb.File
	storage  *cfb.Entry
	codepage int
	notices  []codec.Notice
}

// Filename returns the best name the attachment declares: the long
// filename, then the 8.3 filename, then the display name.
func (a *Attachment) Filename() string {
	for _, s := range []string{a.LongName, a.ShortName, a.DisplayName} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// IsMessage reports whether the attachment data is an embedded message
// storage rather than a byte stream.
func (a *Attachment) IsMessage() bool {
	return a.storage != nil
}

// Embedded resolves an embedded message attachment with the same extractor
// used for the top-level message.
func (a *Attachment) Embedded() (*Message, error) {
	if a.storage == nil {
		return nil, errors.New("attachment is not an embedded message")
	}
	return FromStorage(a.file, a.storage, headerEmbedded, a.codepage)
}

func readAttachment(f *cfb.File, e *cfb.Entry, codepage int) (*Attachment, error) {
	ps, err := loadProperties(f, e, headerChild)
	if err != nil {
		return nil, err
	}
	ps.codepage = codepage
	a := &Attachment{file: f, codepage: codepage}

	fields := []struct {
		id  uint16
		dst *string
	}{
		{propAttachLongName, &a.LongName},
		{propAttachFilename, &a.ShortName},
		{propDisplayName, &a.DisplayName},
		{propAttachMimeTag, &a.MimeTag},
		{propAttachContentID, &a.ContentID},
	}
	for _, fd := range fields {
		s, _, notices, err := ps.String(fd.id)
		if err != nil {
			return nil, err
		}
		a.notices = append(a.notices, notices...)
		*fd.dst = s
	}
	a.Method, _ = ps.Int(propAttachMethod)

	p, err := ps.Get(propAttachData)
	if err != nil {
		return nil, err
	}
	if p != nil {
		switch p.Kind {
		case KindObject:
			if p.Storage.IsStorage() && (a.Method == AttachEmbeddedMsg || p.Storage.Child(propertiesName) != nil) {
				a.storage = p.Storage
			}
		case KindBinary, KindString:
			a.Data = p.Raw
		case KindInt:
		}
	}
	return a, nil
}
