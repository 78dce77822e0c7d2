package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"estimator/pkg/estimator"
	"estimator/pkg/material"
)

const pageTitle = "Project Estimator"

type formView struct {
	Mode    string
	Label   string
	Item    string
	Price   string
	Editing bool
}

type tableView struct {
	Rows  []estimator.Row
	Total string
}

type pageView struct {
	Title  string
	Form   formView
	Table  tableView
	Flash  string
	Notice string
}

// index renders the caller's Root: the form on top, the table below. A
// browser without a session gets an empty add form over the shared table.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	view := pageView{
		Title:  pageTitle,
		Form:   formView{Mode: string(estimator.ModeAdd), Label: string(estimator.ModeAdd)},
		Notice: s.live.Notice(),
	}

	if sess, ok := s.sessions.find(r); ok {
		form := sess.root.Form()
		values := form.Values()
		mode := form.Mode()
		rows, total := sess.root.Table().Snapshot()
		view.Form = formView{
			Mode:    string(mode),
			Label:   form.SubmitLabel(),
			Item:    values.Item,
			Price:   priceValue(values.Price),
			Editing: mode == estimator.ModeEdit,
		}
		view.Table = tableView{Rows: rows, Total: s.format.FormatDecimal(total)}
		view.Flash = sess.takeFlash()
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		items, err := s.store.List(ctx)
		if err != nil {
			s.logger.Error("page unavailable: unable to list items", "error", err)
			http.Error(w, "estimate unavailable", http.StatusServiceUnavailable)
			return
		}
		view.Table = tableView{
			Rows:  estimator.NewRows(items, s.format),
			Total: s.format.FormatDecimal(material.Sum(items)),
		}
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "page", view); err != nil {
		s.logger.Error("page render failed", "error", err)
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

// submit records the typed values and runs the form's add or edit.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("submission rejected: unreadable form", "error", err)
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	form := sess.root.Form()
	name := r.PostForm.Get("item")
	price, err := parsePrice(r.PostForm.Get("price"))
	if err != nil {
		form.SetInput(name, 0)
		s.logger.Info("submission rejected: price is not a number", "price", r.PostForm.Get("price"))
		sess.setFlash("Price must be a number.")
		s.back(w, r)
		return
	}
	form.SetInput(name, price)

	mode := form.Mode()
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	switch err := form.Submit(ctx); {
	case errors.Is(err, estimator.ErrCannotSubmit):
		s.logger.Info("submission rejected", "mode", mode, "error", err)
		sess.setFlash("Enter a material name and a price above zero.")
	case errors.Is(err, estimator.ErrItemGone):
		s.logger.Info("edit dropped: item was deleted", "item", name)
		sess.setFlash("That item was removed before your changes were saved.")
	case err != nil:
		s.logger.Error("submission failed", "mode", mode, "error", err)
		sess.setFlash("The estimate could not be updated, please try again.")
	default:
		s.logger.Info("item submitted", "mode", mode, "item", name, "price", price)
	}
	s.back(w, r)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.sessions.find(r); ok {
		sess.root.Form().Cancel()
	}
	s.back(w, r)
}

// edit activates a table row, loading its item into the form.
func (s *Server) edit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, err := itemID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if !sess.root.Table().Activate(id) {
		s.logger.Info("edit ignored: item not in table", "id", id)
		sess.setFlash("That item is no longer part of the estimate.")
	}
	s.back(w, r)
}

// remove deletes a row without confirmation.
func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	sess, ok := s.sessions.find(r)
	var found bool
	if ok {
		found, err = sess.root.Table().Delete(ctx, id)
	} else {
		found, err = s.store.Delete(ctx, id)
	}
	switch {
	case err != nil:
		s.logger.Error("delete failed", "id", id, "error", err)
		if ok {
			sess.setFlash("The item could not be deleted, please try again.")
		}
	case !found:
		s.logger.Info("delete ignored: item not found", "id", id)
	default:
		s.logger.Info("item deleted", "id", id)
	}
	s.back(w, r)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, err := s.sessions.lookup(w, r)
	if err != nil {
		s.logger.Error("session unavailable", "error", err)
		http.Error(w, "estimate unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	return sess, true
}

// back finishes a form post with a redirect to the page.
func (s *Server) back(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func itemID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// parsePrice accepts either decimal separator; a blank field is zero.
func parsePrice(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
}

// priceValue renders a price for the input field, blank when unset.
func priceValue(price float64) string {
	if price == 0 {
		return ""
	}
	return strconv.FormatFloat(price, 'f', -1, 64)
}
