// Package common holds enumerations shared by configuration, drivers and the
// rendering pipeline. Drivers must not depend on program configuration, so
// enums live in their own package.
package common

//go:generate go tool go-enum --marshal --names --values

// Rendering backend selection.
// ENUM(auto, local, remote)
type DriverKind int

// Output artifact format.
// ENUM(csv, pptx, pdf)
type ExportFmt int

// Ext returns file extension (with leading dot) used for artifacts of this
// format.
func (f ExportFmt) Ext() string {
	switch f {
	case ExportFmtCsv:
		return ".csv"
	case ExportFmtPptx:
		return ".pptx"
	case ExportFmtPdf:
		return ".pdf"
	default:
		// this should never happen
		panic("unsupported export format requested")
	}
}

// Editable reports whether format keeps document editable.
func (f ExportFmt) Editable() bool {
	return f == ExportFmtPptx
}

// MIME returns media type of the format.
func (f ExportFmt) MIME() string {
	switch f {
	case ExportFmtCsv:
		return "text/csv"
	case ExportFmtPptx:
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ExportFmtPdf:
		return "application/pdf"
	default:
		// this should never happen
		panic("unsupported export format requested")
	}
}
