package main

import (
	"fmt"

	"github.com/shopglue/chatwidget/pkg/widget"
)

func loginPage(errMsg string) string {
	errBlock := ""
	if errMsg != "" {
		errBlock = `<div class="err">` + errMsg + `</div>`
	}
	return `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>Widget Host - Login</title>
<style>
body{font-family:system-ui,sans-serif;background:#f4f4f7;display:flex;align-items:center;justify-content:center;height:100vh;margin:0}
form{background:#fff;border:1px solid #ddd;border-radius:12px;padding:32px;width:320px}
h1{font-size:18px;margin:0 0 16px}
.err{background:#fde8e8;color:#c0392b;border-radius:8px;padding:8px 12px;font-size:13px;margin-bottom:12px}
label{display:block;font-size:13px;color:#555;margin-bottom:4px}
input{width:100%;box-sizing:border-box;padding:8px 10px;border:1px solid #ccc;border-radius:8px;margin-bottom:12px;font-size:14px}
button{width:100%;padding:10px;border:none;border-radius:8px;background:#333;color:#fff;font-size:14px;cursor:pointer}
</style>
</head>
<body>
<form method="POST" action="/login">
<h1>Widget Host</h1>
` + errBlock + `
<label for="username">Username</label><input id="username" name="username" autocomplete="username" required autofocus>
<label for="password">Password</label><input id="password" name="password" type="password" autocomplete="current-password" required>
<button type="submit">Sign in</button>
</form>
</body>
</html>`
}

// demoPage renders a storefront-like page with the widget mounted. The page
// owns pixels only; every state change round-trips through the core's API.
func demoPage(view widget.View) string {
	botName := view.Site.BotName
	if botName == "" {
		botName = "Assistant"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>Demo Storefront</title>
<style>
:root{%s}
body{font-family:system-ui,sans-serif;margin:0;background:#fafafa;color:#222}
header{padding:20px 32px;background:#fff;border-bottom:1px solid #e5e5e5;font-weight:600}
main{padding:32px;max-width:760px;margin:0 auto}
.product{background:#fff;border:1px solid #e5e5e5;border-radius:12px;padding:20px;margin-bottom:16px}
#launcher{position:fixed;right:24px;bottom:24px;width:56px;height:56px;border-radius:50%%;background:var(--accent);color:var(--on-accent);border:none;font-size:22px;cursor:pointer;display:none}
#panel{position:fixed;right:24px;bottom:24px;width:340px;background:#fff;border:1px solid #e0e0e0;border-radius:14px;display:none;flex-direction:column;overflow:hidden;box-shadow:0 8px 32px rgba(0,0,0,.12)}
#panel header{display:flex;align-items:center;gap:8px;padding:12px 16px;background:var(--accent);color:var(--on-accent);border:none}
#panel header .ctl{margin-left:auto;display:flex;gap:6px}
#panel header button{background:none;border:none;color:var(--on-accent);cursor:pointer;font-size:14px}
#log{height:320px;overflow-y:auto;padding:12px;display:flex;flex-direction:column;gap:8px}
.msg{max-width:80%%;padding:8px 12px;border-radius:12px;font-size:13px;line-height:1.5;white-space:pre-wrap}
.msg.user{align-self:flex-end;background:var(--accent);color:var(--on-accent)}
.msg.assistant{align-self:flex-start;background:var(--accent-glow)}
.welcome{font-size:13px;color:#666;padding:8px 12px}
#bar{display:flex;border-top:1px solid #eee}
#bar input{flex:1;border:none;padding:12px;font-size:14px;outline:none}
#bar button{border:none;background:var(--accent);color:var(--on-accent);padding:0 18px;cursor:pointer}
.minimized #log,.minimized #bar,.minimized .welcome{display:none}
</style>
</head>
<body>
<header>Demo Storefront</header>
<main>
<div class="product"><h3>Canvas Tote</h3><p>Everyday carry, organic cotton.</p><button>Add to cart</button></div>
<div class="product"><h3>Enamel Mug</h3><p>Campfire classic, 350ml.</p><button>Add to cart</button></div>
</main>
<button id="launcher" aria-label="Open chat">&#128172;</button>
<div id="panel">
<header><span>%s</span><span class="ctl">
<button id="min" title="Minimize">&#8211;</button>
<button id="max" title="Maximize" style="display:none">&#9633;</button>
<button id="cls" title="Close">&#10005;</button>
</span></header>
<div id="log"></div>
<div id="bar"><input id="in" placeholder="Ask a question..." aria-label="Message"><button id="go">Send</button></div>
</div>
<script>
const launcher=document.getElementById("launcher"),panel=document.getElementById("panel"),
      log=document.getElementById("log"),input=document.getElementById("in"),
      go=document.getElementById("go"),minB=document.getElementById("min"),
      maxB=document.getElementById("max"),clsB=document.getElementById("cls");
function esc(s){return s.replace(/&/g,"&amp;").replace(/</g,"&lt;").replace(/>/g,"&gt;")}
function render(v){
  if(v.navigate){setTimeout(()=>{window.location.href=v.navigate},100);return}
  const st=v.state;
  launcher.style.display=(st==="launcher_only"||st==="hidden")?"block":"none";
  panel.style.display=(st==="text_maximized"||st==="text_minimized")?"flex":"none";
  panel.classList.toggle("minimized",st==="text_minimized");
  minB.style.display=st==="text_maximized"?"inline":"none";
  maxB.style.display=st==="text_minimized"?"inline":"none";
  log.innerHTML="";
  if(v.showWelcome&&v.site&&v.site.welcomeText){
    log.innerHTML='<div class="welcome">'+esc(v.site.welcomeText)+'</div>';
  }
  for(const m of v.messages||[]){
    const d=document.createElement("div");d.className="msg "+m.role;d.textContent=m.content;log.appendChild(d);
  }
  log.scrollTop=log.scrollHeight;
}
async function call(path,body){
  const r=await fetch(path,{method:"POST",headers:{"Content-Type":"application/json"},body:body?JSON.stringify(body):"{}"});
  if(r.ok)render(await r.json());
}
launcher.onclick=()=>call("/api/open");
clsB.onclick=()=>call("/api/close");
minB.onclick=()=>call("/api/minimize");
maxB.onclick=()=>call("/api/maximize");
async function send(){const m=input.value.trim();if(!m)return;input.value="";await call("/api/send",{message:m})}
go.onclick=send;
input.onkeydown=e=>{if(e.key==="Enter")send()};
const ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/ws");
ws.onmessage=e=>render(JSON.parse(e.data));
fetch("/api/state").then(r=>r.json()).then(render);
</script>
</body>
</html>`, view.Palette.CSSVars(), botName)
}
