package main

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"soulsync/avatar"
)

const (
	faceCharsW = 36
	faceCharsH = 16
	facePixW   = faceCharsW
	facePixH   = faceCharsH * 2

	blinkEvery  = 55 // frames
	blinkFrames = 2

	faceAspect = float32(facePixW) / facePixH
	headRows   = 15.0 // head half height the feature offsets are drawn for
)

const (
	pxNone = iota
	pxSkin
	pxShade
	pxHair
	pxMouth
	pxEyeWhite
	pxPupil
	pxLips
	pxTeeth
	pxCount
)

// Pre-computed pixel styles to avoid allocations in render loop
var (
	faceColors    = [pxCount]string{"", "223", "180", "94", "52", "255", "24", "168", "252"}
	faceColorsRec = [pxCount]string{"", "223", "180", "94", "52", "255", "160", "168", "252"}
	faceStyles    [2][pxCount]lipgloss.Style
	faceBg        [2][pxCount][pxCount]lipgloss.Style
)

func init() {
	for p, palette := range [2][pxCount]string{faceColors, faceColorsRec} {
		for i, fg := range palette {
			if fg == "" {
				continue
			}
			faceStyles[p][i] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
			for j, bg := range palette {
				if bg != "" {
					faceBg[p][i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
				}
			}
		}
	}
}

// mouthOpen reduces the morph weights to how far the mouth is open.
func mouthOpen(weights []float32) float64 {
	var open float32
	for _, w := range weights {
		open = max(open, w)
	}
	return float64(open)
}

func inEllipse(x, y, cx, cy, rx, ry float64) (float64, bool) {
	dx := (x - cx) / rx
	dy := (y - cy) / ry
	d := dx*dx + dy*dy
	return d, d < 1
}

// facePlacement projects the avatar's head into the face panel.
func facePlacement(t avatar.Transform) avatar.Placement {
	return avatar.DefaultCamera().Place(t, faceAspect)
}

// facePixels paints the face into palette indices. open is the mouth
// opening in [0, 1]; place positions and sizes the head.
func facePixels(frame int, open float64, place avatar.Placement) [][]int {
	open = math.Max(0, math.Min(1, open))

	pixels := make([][]int, facePixH)
	for i := range pixels {
		pixels[i] = make([]int, facePixW)
	}
	if !place.Visible {
		return pixels
	}

	cx := (place.X + 1) / 2 * facePixW
	cy := (1-place.Y)/2*facePixH + 0.5
	k := place.Radius * facePixH / 2 / headRows
	blink := frame%blinkEvery < blinkFrames

	for y := 0; y < facePixH; y++ {
		for x := 0; x < facePixW; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5

			d, in := inEllipse(px, py, cx, cy, 12.5*k, 15*k)
			if !in {
				continue
			}
			switch {
			case py < cy-8*k || (py < cy-2*k && d > 0.72):
				pixels[y][x] = pxHair
			case d > 0.85:
				pixels[y][x] = pxShade
			default:
				pixels[y][x] = pxSkin
			}

			// Eyes
			for _, ex := range []float64{cx - 5*k, cx + 5*k} {
				ey := cy - 3*k
				if blink {
					if math.Abs(px-ex) < 2.5*k && math.Abs(py-ey) < 0.5 {
						pixels[y][x] = pxShade
					}
					continue
				}
				if _, ok := inEllipse(px, py, ex, ey, 2.6*k, 1.6*k); ok {
					pixels[y][x] = pxEyeWhite
				}
				if _, ok := inEllipse(px, py, ex, ey, 1.1*k, 1.1*k); ok {
					pixels[y][x] = pxPupil
				}
			}

			// Nose
			if math.Abs(px-cx) < 0.6 && py > cy && py < cy+3*k {
				pixels[y][x] = pxShade
			}

			// Mouth: wide and flat when closed, taller and rounder as it opens
			my := cy + 7.5*k
			rx := (4.5 - open*1.2) * k
			ry := (0.55 + open*2.6) * k
			if md, ok := inEllipse(px, py, cx, my, rx, ry); ok {
				switch {
				case open < 0.1 || md > 0.6:
					pixels[y][x] = pxLips
				case py < my-ry*0.45:
					pixels[y][x] = pxTeeth
				default:
					pixels[y][x] = pxMouth
				}
			}
		}
	}
	return pixels
}

// avatarFrame paints the face as the avatar currently looks.
func (a *app) avatarFrame(frame int, place avatar.Placement) ([][]int, bool) {
	var open float64
	if morphs, ok := a.scene.Morphs(); ok {
		open = mouthOpen(morphs.Weights())
	}
	recording := a.rec != nil && a.rec.Recording()
	return facePixels(frame, open, place), recording
}

// renderFace draws the face with half-block characters. Recording tints
// the eyes.
func renderFace(frame int, open float64, recording bool, place avatar.Placement) string {
	pixels := facePixels(frame, open, place)
	palette := 0
	if recording {
		palette = 1
	}
	styles := &faceStyles[palette]
	bgStyles := &faceBg[palette]

	var result strings.Builder
	for row := 0; row < faceCharsH; row++ {
		for col := 0; col < faceCharsW; col++ {
			top := pixels[row*2][col]
			bot := pixels[row*2+1][col]
			switch {
			case top == pxNone && bot == pxNone:
				result.WriteString(" ")
			case top == bot:
				result.WriteString(styles[top].Render("█"))
			case bot == pxNone:
				result.WriteString(styles[top].Render("▀"))
			case top == pxNone:
				result.WriteString(styles[bot].Render("▄"))
			default:
				result.WriteString(bgStyles[top][bot].Render("▀"))
			}
		}
		result.WriteString("\n")
	}
	return result.String()
}
