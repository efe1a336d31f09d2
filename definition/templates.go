package definition

import (
	"strings"
	"text/template"
)

var tmplFuncs = template.FuncMap{
	// rubyQuote renders s as a Ruby double-quoted literal.
	"rubyQuote": func(s string) string {
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `#`, `\#`)
		return `"` + r.Replace(s) + `"`
	},
	// shQuote renders s as a POSIX shell single-quoted word.
	"shQuote": func(s string) string {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	},
	// psQuote renders s as a PowerShell single-quoted string.
	"psQuote": func(s string) string {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	},
}

var vagrantfileTmpl = template.Must(template.New("Vagrantfile").Funcs(tmplFuncs).Parse(`# -*- mode: ruby -*-
# vi: set ft=ruby :

Vagrant.configure("2") do |config|
  config.vm.box = {{rubyQuote .Profile.Box}}
  config.vm.hostname = {{rubyQuote .Hostname}}
{{- if .Windows}}

  config.vm.guest = :windows
  config.vm.communicator = "winrm"
  config.winrm.username = "vagrant"
  config.winrm.password = "vagrant"
  config.vm.boot_timeout = 1800
  config.vm.graceful_halt_timeout = 900
{{- end}}

  config.vm.provider :libvirt do |lv|
    lv.memory = {{.Profile.MemoryMB}}
    lv.cpus = {{.Profile.CPUs}}
    lv.description = {{rubyQuote .Description}}
    lv.graphics_type = "vnc"
    lv.graphics_websocket = -1
    lv.graphics_ip = "127.0.0.1"
    lv.video_type = "qxl"
    lv.keymap = "fr"
    lv.storage_pool_name = "default"
    lv.channel :type => 'unix', :target_name => 'org.qemu.guest_agent.0', :target_type => 'virtio'
{{- if .Profile.Serial}}
    lv.serial :type => "pty", :target_port => "0"
{{- end}}
  end

  config.vm.synced_folder ".", "/vagrant", disabled: true
  config.vm.network "private_network", type: "dhcp", libvirt__network_name: {{rubyQuote .Network}}
{{- if .Script}}

  config.vm.provision "shell", privileged: true, path: {{rubyQuote .Script}}
{{- end}}
end
`))

// keyboardFR configures the French console layout and locale on Debian.
const keyboardFR = `apt-get install -y kbd console-setup keyboard-configuration locales

sed -i 's/# fr_FR.UTF-8 UTF-8/fr_FR.UTF-8 UTF-8/' /etc/locale.gen
locale-gen
update-locale LANG=fr_FR.UTF-8

cat > /etc/default/keyboard << 'KBD'
XKBMODEL="pc105"
XKBLAYOUT="fr"
XKBVARIANT=""
XKBOPTIONS=""
BACKSPACE="guess"
KBD
debconf-set-selections << 'DEB'
keyboard-configuration keyboard-configuration/layoutcode string fr
keyboard-configuration keyboard-configuration/modelcode string pc105
DEB
dpkg-reconfigure -f noninteractive keyboard-configuration || true
setupcon --force --save || true
loadkeys fr 2>/dev/null || true
`

var debianTmpl = template.Must(template.New("provision.sh").Funcs(tmplFuncs).Parse(`#!/bin/bash
set -u
export DEBIAN_FRONTEND=noninteractive
apt-get update
{{- if .Desktop}}
echo "lightdm shared/default-x-display-manager select lightdm" | debconf-set-selections
{{- end}}

` + keyboardFR + `
{{- if .Desktop}}
mkdir -p /etc/X11/xorg.conf.d
cat > /etc/X11/xorg.conf.d/00-keyboard.conf << 'XORG'
Section "InputClass"
    Identifier "system-keyboard"
    MatchIsKeyboard "on"
    Option "XkbModel" "pc105"
    Option "XkbLayout" "fr"
EndSection
XORG

apt-get install -y xorg dbus-x11 policykit-1 \
    lightdm lightdm-gtk-greeter \
    xfce4 xfce4-goodies \
    xserver-xorg-input-libinput xserver-xorg-video-qxl \
    network-manager-gnome fonts-dejavu
echo "/usr/sbin/lightdm" > /etc/X11/default-display-manager
systemctl set-default graphical.target
systemctl enable lightdm
{{- else}}
udevadm trigger --subsystem-match=input --action=change || true
{{- end}}

useradd -m -s /bin/bash {{.User}} || true
printf '%s\n' {{shQuote .UserCred}} | chpasswd
usermod -aG sudo {{.User}}
{{- if .Desktop}}
echo "startxfce4" > /home/{{.User}}/.xsession
chown -R {{.User}}:{{.User}} /home/{{.User}}

mkdir -p /etc/lightdm/lightdm.conf.d
cat > /etc/lightdm/lightdm.conf.d/50-autologin.conf << 'LDM'
[Seat:*]
autologin-user={{.User}}
autologin-user-timeout=0
LDM
systemctl restart lightdm || systemctl start display-manager || true
{{- else}}

systemctl enable serial-getty@ttyS0.service
systemctl start serial-getty@ttyS0.service
grep -qx ttyS0 /etc/securetty 2>/dev/null || echo "ttyS0" >> /etc/securetty
{{- end}}
{{- if .RootCred}}

printf '%s\n' {{shQuote .RootCred}} | chpasswd
usermod -U root || true
{{- end}}
`))

var windowsTmpl = template.Must(template.New("provision.ps1").Funcs(tmplFuncs).Parse(`Write-Host "=== hatchery guest setup ==="

secedit /export /cfg C:\secpol.cfg | Out-Null
(Get-Content C:\secpol.cfg).replace("PasswordComplexity = 1", "PasswordComplexity = 0") | Out-File C:\secpol.cfg
secedit /configure /db C:\windows\security\local.sdb /cfg C:\secpol.cfg /areas SECURITYPOLICY | Out-Null
Remove-Item -Force C:\secpol.cfg -ErrorAction SilentlyContinue

Set-WinDefaultInputMethodOverride -InputTip "040c:0000040c"
Set-Culture fr-FR -ErrorAction SilentlyContinue
Set-WinHomeLocation -GeoId 84 -ErrorAction SilentlyContinue
Set-TimeZone -Id "Romance Standard Time" -ErrorAction SilentlyContinue

$null = New-PSDrive -Name HKU -PSProvider Registry -Root HKEY_USERS -ErrorAction SilentlyContinue
New-Item -Path "HKU:\.DEFAULT\Keyboard Layout\Preload" -Force -ErrorAction SilentlyContinue | Out-Null
Set-ItemProperty -Path "HKU:\.DEFAULT\Keyboard Layout\Preload" -Name "1" -Value "0000040c" -Force
New-Item -Path "HKU:\.DEFAULT\Keyboard Layout\Substitutes" -Force -ErrorAction SilentlyContinue | Out-Null
Set-ItemProperty -Path "HKU:\.DEFAULT\Keyboard Layout\Substitutes" -Name "00000409" -Value "0000040c" -Force
New-Item -Path "HKU:\.DEFAULT\Control Panel\International" -Force -ErrorAction SilentlyContinue | Out-Null
Set-ItemProperty -Path "HKU:\.DEFAULT\Control Panel\International" -Name "LocaleName" -Value "fr-FR" -Force

$LangList = New-WinUserLanguageList fr-FR
Set-WinUserLanguageList $LangList -Force
Set-WinSystemLocale fr-FR
{{- if .RootCred}}

Set-LocalUser -Name "Administrator" -Password (ConvertTo-SecureString {{psQuote .RootCred}} -AsPlainText -Force)
{{- end}}

$username = {{psQuote .User}}
$password = ConvertTo-SecureString {{psQuote .UserCred}} -AsPlainText -Force
if (-not (Get-LocalUser -Name $username -ErrorAction SilentlyContinue)) {
  New-LocalUser -Name $username -Password $password -FullName $username -PasswordNeverExpires
} else {
  Set-LocalUser -Name $username -Password $password
}
Add-LocalGroupMember -Group "Administrators" -Member $username -ErrorAction SilentlyContinue

Set-ItemProperty -Path "HKLM:\SYSTEM\CurrentControlSet\Control\Terminal Server" -Name "fDenyTSConnections" -Value 0
Enable-NetFirewallRule -DisplayGroup "Remote Desktop" -ErrorAction SilentlyContinue
Set-Service -Name TermService -StartupType Automatic
Start-Service TermService -ErrorAction SilentlyContinue

Write-Host "=== guest setup done ==="
`))
