package browser

import (
	"strconv"
)

// Scripts take selectors as quoted JS string literals.

func jsString(s string) string { return strconv.Quote(s) }

func tableJS(rowSel string) string {
	return `Array.from(document.querySelectorAll(` + jsString(rowSel) + `)).map(function (r) {
	return Array.from(r.querySelectorAll("th,td")).map(function (c) { return (c.innerText || "").trim(); });
})`
}

func countJS(sel string) string {
	return `document.querySelectorAll(` + jsString(sel) + `).length`
}

func dispatchChangeJS(sel string) string {
	return `(function () {
	var el = document.querySelector(` + jsString(sel) + `);
	if (!el) { return false; }
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
})()`
}

func selectOptionJS(sel, label string) string {
	return `(function () {
	var el = document.querySelector(` + jsString(sel) + `);
	if (!el || !el.options) { return false; }
	var want = ` + jsString(label) + `.toLowerCase();
	for (var i = 0; i < el.options.length; i++) {
		if ((el.options[i].text || "").toLowerCase().indexOf(want) >= 0) {
			el.selectedIndex = i;
			el.dispatchEvent(new Event("change", { bubbles: true }));
			return true;
		}
	}
	return false;
})()`
}

const acceptDialogsJS = `(function () {
	window.confirm = function () { return true; };
	window.alert = function () {};
	return true;
})()`
