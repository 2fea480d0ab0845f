package utils

import (
	"io"
	"os"
	"steamcommunity/internal/confirmations"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

func NewTable() table.Writer {
	return NewTableTo(os.Stdout)
}

func NewTableTo(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}

// ConfirmationRows renders confirmations as rows below ConfirmationHeader.
func ConfirmationRows(confs []confirmations.Confirmation) []table.Row {
	rows := make([]table.Row, len(confs))
	for i, conf := range confs {
		offerID := conf.OfferID
		if !conf.OfferResolved {
			offerID = "-"
		}
		rows[i] = table.Row{
			conf.ID,
			conf.Type.String(),
			conf.CreatorID,
			offerID,
			conf.Title,
			conf.Sending,
			conf.Receiving,
			FormatTime(conf.CreatedAt),
		}
	}
	return rows
}

var ConfirmationHeader = table.Row{
	"ID", "Type", "Creator", "Offer", "Title", "Sending", "Receiving", "Created",
}
