package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pavelanni/mockexam/internal/bank"
	"github.com/pavelanni/mockexam/internal/handler/views"
	appI18n "github.com/pavelanni/mockexam/internal/i18n"
)

const maxUploadSize = 10 << 20

func (h *Handler) adminData() (views.AdminData, error) {
	count, err := h.store.QuestionCount()
	if err != nil {
		return views.AdminData{}, err
	}
	info, err := h.store.GetBankInfo()
	if err != nil {
		return views.AdminData{}, err
	}
	reports, err := h.store.PoolReport(h.config.Blueprint)
	if err != nil {
		return views.AdminData{}, err
	}
	return views.AdminData{Bank: info, Count: count, Reports: reports}, nil
}

func (h *Handler) handleAdminBankPage(w http.ResponseWriter, r *http.Request) {
	d, err := h.adminData()
	if err != nil {
		slog.Error("load bank status", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, views.AdminBankPage(d))
}

func (h *Handler) handleUploadBank(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "file too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("bank_file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	var msg, problem string
	questions, err := bank.Parse(bytes.NewReader(data))
	if err != nil {
		status = http.StatusBadRequest
		problem = err.Error()
		var rowErr *bank.RowError
		if errors.As(err, &rowErr) {
			slog.Warn("rejected bank upload", "filename", header.Filename, "line", rowErr.Line, "column", rowErr.Column, "error", rowErr.Err)
		} else {
			slog.Warn("rejected bank upload", "filename", header.Filename, "error", err)
		}
	} else {
		imported, err := h.store.ImportBank(header.Filename, data, questions)
		switch {
		case err != nil:
			slog.Error("failed to import bank", "error", err)
			http.Error(w, "failed to import bank: "+err.Error(), http.StatusInternalServerError)
			return
		case imported:
			msg = appI18n.Td(r.Context(), "UploadDone", map[string]any{"Count": len(questions)})
		default:
			msg = appI18n.T(r.Context(), "UploadUnchanged")
		}
	}

	d, err := h.adminData()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	d.Message, d.Error = msg, problem
	render(w, r, status, views.AdminBankPage(d))
}
