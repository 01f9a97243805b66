package remote

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/agentworkforce/storysync/internal/story"
)

// Request is a fully prepared HTTP request. It carries everything needed to
// resend it later byte-for-byte, including credentials.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (r Request) Clone() Request {
	out := Request{Method: r.Method, URL: r.URL, Header: r.Header.Clone()}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

const (
	defaultPhotoName = "photo.jpg"
	defaultPhotoType = "image/jpeg"
)

// PrepareCreateStory encodes a new story as the multipart POST /stories
// request. Nothing is sent.
func (c *Client) PrepareCreateStory(token string, ns story.NewStory) (Request, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Request{}, story.ErrUnauthenticated
	}
	if strings.TrimSpace(ns.Description) == "" {
		return Request{}, fmt.Errorf("%w: description is required", story.ErrInvalidInput)
	}
	if len(ns.Photo) == 0 {
		return Request{}, fmt.Errorf("%w: photo is required", story.ErrInvalidInput)
	}
	if (ns.Lat == nil) != (ns.Lon == nil) {
		return Request{}, fmt.Errorf("%w: lat and lon must be given together", story.ErrInvalidInput)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("description", ns.Description); err != nil {
		return Request{}, err
	}

	name := strings.TrimSpace(ns.PhotoName)
	if name == "" {
		name = defaultPhotoName
	}
	contentType := strings.TrimSpace(ns.PhotoType)
	if contentType == "" {
		contentType = defaultPhotoType
	}
	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, name))
	partHeader.Set("Content-Type", contentType)
	part, err := mw.CreatePart(partHeader)
	if err != nil {
		return Request{}, err
	}
	if _, err := part.Write(ns.Photo); err != nil {
		return Request{}, err
	}

	if ns.Lat != nil {
		if err := mw.WriteField("lat", strconv.FormatFloat(*ns.Lat, 'f', -1, 64)); err != nil {
			return Request{}, err
		}
		if err := mw.WriteField("lon", strconv.FormatFloat(*ns.Lon, 'f', -1, 64)); err != nil {
			return Request{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Request{}, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Content-Type", mw.FormDataContentType())
	return Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/stories",
		Header: header,
		Body:   body.Bytes(),
	}, nil
}

// DescribeCreateStory recovers the description field of a prepared create
// request. It returns "" for anything that is not a multipart body.
func DescribeCreateStory(req Request) string {
	contentType := req.Header.Get("Content-Type")
	idx := strings.Index(contentType, "boundary=")
	if idx < 0 {
		return ""
	}
	boundary := strings.Trim(contentType[idx+len("boundary="):], `"`)
	reader := multipart.NewReader(bytes.NewReader(req.Body), boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			return ""
		}
		if part.FormName() != "description" {
			continue
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(part); err != nil {
			return ""
		}
		return buf.String()
	}
}
