package httpapi

import (
	"html/template"

	"github.com/gin-gonic/gin"
)

const pageTemplateName = "softphone.html"

// PageTemplate is the phone page. Forms post back to the handlers and every
// view event, including the first one sent on subscribe, is applied to the
// page.
var PageTemplate = template.Must(template.New(pageTemplateName).Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Softphone</title></head>
<body>
<main id="phone">
{{- with .Notice}}<p class="notice">{{.}}</p>{{end}}
<section id="incoming"{{if not .View.Incoming}} hidden{{end}}>
  <p id="caption">{{with .View.Incoming}}{{.Caption}}{{end}}</p>
  <form method="post" action="{{.Path}}/answer"><button type="submit">Answer</button></form>
  <form method="post" action="{{.Path}}/reject"><button type="submit">Reject</button></form>
</section>
<section id="dialer"{{if not .View.ShowDialer}} hidden{{end}}>
  <form method="post" action="{{.Path}}/call">
    <label>To: <input type="tel" name="number" value="{{.View.Destination}}"></label>
    <button type="submit">Call</button>
  </form>
</section>
<section id="hangup"{{if not .View.ShowHangUp}} hidden{{end}}>
  <form method="post" action="{{.Path}}/hangup"><button type="submit">Hang Up</button></form>
</section>
<p id="status">{{.View.StatusLabel}}</p>
</main>
<script>
(function () {
  var es = new EventSource("{{.Path}}/events");
  es.addEventListener("view", function (e) {
    var v = JSON.parse(e.data);
    var inc = document.getElementById("incoming");
    inc.hidden = !v.incoming;
    document.getElementById("caption").textContent = v.incoming ? v.incoming.caption : "";
    document.getElementById("dialer").hidden = !v.show_dialer;
    var num = document.querySelector("#dialer input[name=number]");
    if (document.activeElement !== num) { num.value = v.destination || ""; }
    document.getElementById("hangup").hidden = !v.show_hangup;
    document.getElementById("status").textContent = v.status_label;
  });
})();
</script>
</body>
</html>
`))

// LoadTemplates installs the page template on r.
func LoadTemplates(r *gin.Engine) {
	r.SetHTMLTemplate(PageTemplate)
}
