// kapchan/handlers/render.go
package handlers

import (
	"html/template"
	"net/http"
	"path/filepath"

	"kapchan/models"
)

var templates *template.Template

// LoadTemplates parses every page template under dir.
func LoadTemplates(dir string) error {
	funcs := template.FuncMap{
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
	}
	t, err := template.New("").Funcs(funcs).ParseGlob(filepath.Join(dir, "*.html"))
	if err != nil {
		return err
	}
	templates = t
	return nil
}

// page is the shape every template receives.
type page struct {
	Title string
	User  *models.UserData
	Data  interface{}
}

// render executes a page template with the standard wrapper data.
func render(w http.ResponseWriter, r *http.Request, name, title string, data interface{}, app App) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := templates.ExecuteTemplate(w, name, page{Title: title, User: userData(r), Data: data})
	if err != nil {
		app.Logger().Error("Failed to render template", "template", name, "error", err)
		http.Error(w, "Palvelinvirhe.", http.StatusInternalServerError)
	}
}
