package loader

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	mimeGoogleSheet = "application/vnd.google-apps.spreadsheet"
	mimeXLSX        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeFolder      = "application/vnd.google-apps.folder"
)

// DriveFolderSource downloads every spreadsheet in a Drive folder whose
// name starts with NamePrefix. Native Google Sheets are exported as XLSX.
type DriveFolderSource struct {
	FolderID      string
	NamePrefix    string
	ClientOptions []option.ClientOption
}

func (s DriveFolderSource) Describe() string {
	return fmt.Sprintf("drive folder %s", s.FolderID)
}

func (s DriveFolderSource) Fetch(ctx context.Context) ([]Document, error) {
	srv, err := drive.NewService(ctx, s.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	var files []*drive.File
	q := fmt.Sprintf("'%s' in parents and trashed = false", s.FolderID)
	err = srv.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, mimeType)").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if f.MimeType == mimeFolder || !strings.HasPrefix(f.Name, s.NamePrefix) {
					continue
				}
				files = append(files, f)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list folder: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	docs := make([]Document, 0, len(files))
	for _, f := range files {
		doc, err := s.download(ctx, srv, f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s DriveFolderSource) download(ctx context.Context, srv *drive.Service, f *drive.File) (Document, error) {
	format, ok := FormatFromName(f.Name)
	if f.MimeType == mimeGoogleSheet {
		format, ok = FormatXLSX, true
	}
	if !ok {
		format = ""
	}

	var body io.ReadCloser
	if f.MimeType == mimeGoogleSheet {
		resp, err := srv.Files.Export(f.Id, mimeXLSX).Context(ctx).Download()
		if err != nil {
			return Document{}, fmt.Errorf("export %s: %w", f.Name, err)
		}
		body = resp.Body
	} else {
		resp, err := srv.Files.Get(f.Id).Context(ctx).Download()
		if err != nil {
			return Document{}, fmt.Errorf("download %s: %w", f.Name, err)
		}
		body = resp.Body
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return Document{Name: f.Name, Format: format, Data: data}, nil
}
