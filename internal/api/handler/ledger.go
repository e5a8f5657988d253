package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mordris/ledgerwatch/pkg/models"
)

// HandleStatus returns the ledger summary of the current snapshot
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.Snapshots.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"status":     snap.Status,
		"updated_at": snap.UpdatedAt,
	})
}

// HandleBlocks returns the mirrored blocks in received order
// Query param: ?limit=N to return only the newest N blocks
func (h *Handler) HandleBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := h.Snapshots.Current().Blocks
	if blocks == nil {
		blocks = make([]models.Block, 0)
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(blocks) {
			blocks = blocks[len(blocks)-limit:]
		}
	}

	writeJSON(w, http.StatusOK, blocks)
}

// HandleBlock returns one block by index
func (h *Handler) HandleBlock(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["index"]
	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.Logger.Warn("bad block index", zap.String("index", raw), zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid block index")
		return
	}

	for _, b := range h.Snapshots.Current().Blocks {
		if b.Index == index {
			writeJSON(w, http.StatusOK, b)
			return
		}
	}
	writeError(w, http.StatusNotFound, "block not found")
}

// HandleDirectory returns the user directory and the active user's balance
func (h *Handler) HandleDirectory(w http.ResponseWriter, r *http.Request) {
	snap := h.Snapshots.Current()
	directory := snap.Directory
	if directory == nil {
		directory = make([]models.DirectoryEntry, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":       directory,
		"own_balance": snap.OwnBalance,
	})
}

// HandleSnapshot returns the whole current snapshot
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshots.Current())
}
